package node

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/oci-lxc/deployer/pkg/errors"
)

// ParseFile reads and evaluates a node inventory document.
func ParseFile(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("node inventory", path)
		}
		return nil, errors.ParseError(path, err)
	}
	return ParseBytes(data, path)
}

// ParseBytes parses an inventory from raw bytes.
func ParseBytes(data []byte, filename string) (*Inventory, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	bodySchema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "node", LabelNames: []string{"name"}},
		},
	}

	content, moreDiags := file.Body.Content(bodySchema)
	diags = append(diags, moreDiags...)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	hclCtx := evalContext()

	inv := &Inventory{}
	for _, block := range content.Blocks.OfType("node") {
		n, blockDiags := parseNode(block, hclCtx)
		diags = append(diags, blockDiags...)
		if n != nil {
			inv.Nodes = append(inv.Nodes, *n)
		}
	}
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func parseNode(block *hcl.Block, hclCtx *hcl.EvalContext) (*Node, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	nodeSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "host"},
			{Name: "port"},
			{Name: "user"},
			{Name: "password"},
			{Name: "private_key_path"},
			{Name: "host_key_fingerprint"},
			{Name: "known_hosts_path"},
			{Name: "insecure"},
			{Name: "local"},
		},
	}

	content, moreDiags := block.Body.Content(nodeSchema)
	diags = append(diags, moreDiags...)

	n := &Node{Name: block.Labels[0]}

	stringAttr := func(name string, dest *string) {
		attr, ok := content.Attributes[name]
		if !ok {
			return
		}
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			*dest = val.AsString()
		}
	}

	stringAttr("host", &n.Host)
	stringAttr("user", &n.User)
	stringAttr("password", &n.Password)
	stringAttr("private_key_path", &n.PrivateKeyPath)
	stringAttr("host_key_fingerprint", &n.HostKeyFingerprint)
	stringAttr("known_hosts_path", &n.KnownHostsPath)

	boolAttr := func(name string, dest *bool) {
		attr, ok := content.Attributes[name]
		if !ok {
			return
		}
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.Bool {
			*dest = val.True()
		}
	}
	boolAttr("insecure", &n.Insecure)

	if attr, ok := content.Attributes["port"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.Number {
			port, _ := val.AsBigFloat().Int64()
			n.Port = int(port)
		}
	}

	boolAttr("local", &n.Local)

	return n, diags
}

// evalContext exposes the process environment as env.<NAME>.
func evalContext() *hcl.EvalContext {
	envVars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			envVars[parts[0]] = cty.StringVal(parts[1])
		}
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(envVars),
		},
	}
}
