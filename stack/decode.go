package stack

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/errors"
)

const (
	packageName = "stack"
)

// rootFile is the top-level schema of a stack configuration file
type rootFile struct {
	Settings  []settingsStub `hcl:"terraform,block"`
	Variables []variableStub `hcl:"variable,block"`
	Providers []providerStub `hcl:"provider,block"`
	Resources []resourceStub `hcl:"resource,block"`
	Outputs   []outputStub   `hcl:"output,block"`
}

// settingsStub swallows terraform {} settings blocks; backend and
// required_providers settings are not interpreted by this engine
type settingsStub struct {
	Body hcl.Body `hcl:",remain"`
}

type variableStub struct {
	Name        string         `hcl:"name,label"`
	Description *string        `hcl:"description,optional"`
	Type        hcl.Expression `hcl:"type,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
}

// providerStub keeps region as an expression so var.* references survive
// the first decode pass and evaluate once variables are resolved
type providerStub struct {
	Name   string         `hcl:"name,label"`
	Region hcl.Expression `hcl:"region,optional"`
	Body   hcl.Body       `hcl:",remain"`
}

type resourceStub struct {
	Type string   `hcl:"type,label"`
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type outputStub struct {
	Name        string         `hcl:"name,label"`
	Value       hcl.Expression `hcl:"value"`
	Description *string        `hcl:"description,optional"`
	Sensitive   *bool          `hcl:"sensitive,optional"`
}

// DecodeOptions adjusts decoding behavior
type DecodeOptions struct {
	// Overrides replaces variable defaults by name. Values are strings and
	// are converted to the declared default's type when one exists.
	Overrides map[string]string
}

// DecodeDir parses every .tf file in dir into a Stack
func DecodeDir(dir string, opts DecodeOptions) (*Stack, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.tf"))
	if err != nil {
		return nil, errors.New(errors.ErrStackDecode, "failed to list stack directory",
			map[string]interface{}{
				"dir": dir,
			}, err)
	}
	sort.Strings(paths)
	return DecodeFiles(paths, opts)
}

// DecodeFiles parses the given HCL files into a Stack
func DecodeFiles(paths []string, opts DecodeOptions) (*Stack, error) {
	logger := zap.L().With(zap.String("package", packageName))

	parser := hclparse.NewParser()
	var root rootFile
	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, errors.New(errors.ErrStackDecode, "failed to parse HCL file",
				map[string]interface{}{
					"path": path,
				}, fmt.Errorf("%s", diags.Error()))
		}

		var part rootFile
		if diags := gohcl.DecodeBody(file.Body, nil, &part); diags.HasErrors() {
			return nil, errors.New(errors.ErrStackDecode, "unsupported top-level configuration",
				map[string]interface{}{
					"path": path,
				}, fmt.Errorf("%s", diags.Error()))
		}
		root.Settings = append(root.Settings, part.Settings...)
		root.Variables = append(root.Variables, part.Variables...)
		root.Providers = append(root.Providers, part.Providers...)
		root.Resources = append(root.Resources, part.Resources...)
		root.Outputs = append(root.Outputs, part.Outputs...)
	}

	variables, varVals, err := resolveVariables(root.Variables, opts.Overrides)
	if err != nil {
		return nil, err
	}

	evalCtx := buildEvalContext(varVals, root.Resources)

	stk := &Stack{Variables: variables}

	for _, p := range root.Providers {
		if p.Name != "aws" {
			return nil, errors.New(errors.ErrStackDecode, "unsupported provider",
				map[string]interface{}{
					"provider": p.Name,
				}, nil)
		}
		region := ""
		if p.Region != nil {
			val, diags := p.Region.Value(evalCtx)
			if diags.HasErrors() {
				return nil, errors.New(errors.ErrStackDecode, "failed to evaluate provider region",
					map[string]interface{}{
						"provider": p.Name,
					}, fmt.Errorf("%s", diags.Error()))
			}
			if !val.IsNull() {
				converted, err := convert.Convert(val, cty.String)
				if err != nil {
					return nil, errors.New(errors.ErrStackDecode, "provider region is not a string",
						map[string]interface{}{
							"provider": p.Name,
						}, err)
				}
				region = converted.AsString()
			}
		}
		stk.Provider = &Provider{Name: p.Name, Region: region}
	}

	for _, stub := range root.Resources {
		res, err := decodeResource(stub, evalCtx)
		if err != nil {
			return nil, err
		}
		stk.Resources = append(stk.Resources, *res)
	}

	for _, out := range root.Outputs {
		val, diags := out.Value.Value(evalCtx)
		if diags.HasErrors() {
			return nil, errors.New(errors.ErrStackDecode, "failed to evaluate output value",
				map[string]interface{}{
					"output": out.Name,
				}, fmt.Errorf("%s", diags.Error()))
		}
		sensitive := out.Sensitive != nil && *out.Sensitive
		stk.Outputs = append(stk.Outputs, Output{
			Name:      out.Name,
			Value:     ctyToGo(val),
			Sensitive: sensitive,
		})
	}

	stk.sortResources()
	if err := stk.validate(); err != nil {
		return nil, err
	}

	logger.Info("Stack configuration decoded",
		zap.String("operation", "stack_decode"),
		zap.Int("files", len(paths)),
		zap.Int("resources", len(stk.Resources)),
		zap.Int("outputs", len(stk.Outputs)),
	)
	return stk, nil
}

// resolveVariables evaluates variable defaults and applies overrides
func resolveVariables(stubs []variableStub, overrides map[string]string) ([]Variable, map[string]cty.Value, error) {
	vals := make(map[string]cty.Value)
	var out []Variable

	for _, stub := range stubs {
		var val cty.Value
		hasDefault := false

		if stub.Default != nil {
			v, diags := stub.Default.Value(nil)
			if diags.HasErrors() {
				return nil, nil, errors.New(errors.ErrStackDecode, "failed to evaluate variable default",
					map[string]interface{}{
						"variable": stub.Name,
					}, fmt.Errorf("%s", diags.Error()))
			}
			// gohcl substitutes a null literal for an absent optional
			// expression attribute, so null means no default was written
			if !v.IsNull() {
				val = v
				hasDefault = true
			}
		}

		if raw, ok := overrides[stub.Name]; ok {
			ov := cty.StringVal(raw)
			if hasDefault {
				converted, err := convert.Convert(ov, val.Type())
				if err != nil {
					return nil, nil, errors.New(errors.ErrStackDecode, "variable override has wrong type",
						map[string]interface{}{
							"variable": stub.Name,
							"value":    raw,
						}, err)
				}
				ov = converted
			}
			val = ov
			hasDefault = true
		}

		if !hasDefault {
			return nil, nil, errors.New(errors.ErrStackDecode, "variable has no value",
				map[string]interface{}{
					"variable": stub.Name,
				}, nil)
		}

		vals[stub.Name] = val
		desc := ""
		if stub.Description != nil {
			desc = *stub.Description
		}
		out = append(out, Variable{Name: stub.Name, Description: desc, Value: ctyToGo(val)})
	}

	return out, vals, nil
}

// buildEvalContext exposes var.* values and deferred references for every
// declared resource address. Referencing aws_vpc.main.id in a body yields a
// placeholder string the apply engine resolves against state.
func buildEvalContext(varVals map[string]cty.Value, stubs []resourceStub) *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	if len(varVals) > 0 {
		vars["var"] = cty.ObjectVal(varVals)
	}

	byType := make(map[string]map[string]cty.Value)
	for _, stub := range stubs {
		names, ok := byType[stub.Type]
		if !ok {
			names = make(map[string]cty.Value)
			byType[stub.Type] = names
		}
		names[stub.Name] = cty.ObjectVal(map[string]cty.Value{
			"id":   cty.StringVal(Reference(stub.Type, stub.Name, "id")),
			"arn":  cty.StringVal(Reference(stub.Type, stub.Name, "arn")),
			"name": cty.StringVal(Reference(stub.Type, stub.Name, "name")),
		})
	}
	for typ, names := range byType {
		vars[typ] = cty.ObjectVal(names)
	}

	return &hcl.EvalContext{Variables: vars}
}

// decodeResource decodes a resource stub body into its typed form
func decodeResource(stub resourceStub, ctx *hcl.EvalContext) (*Resource, error) {
	res := &Resource{Type: stub.Type, Name: stub.Name}

	var target interface{}
	switch stub.Type {
	case TypeVPC:
		res.VPC = &VPC{}
		target = res.VPC
	case TypeSubnet:
		res.Subnet = &Subnet{}
		target = res.Subnet
	case TypeInternetGateway:
		res.InternetGateway = &InternetGateway{}
		target = res.InternetGateway
	case TypeSecurityGroup:
		res.SecurityGroup = &SecurityGroup{}
		target = res.SecurityGroup
	case TypeIAMRole:
		res.IAMRole = &IAMRole{}
		target = res.IAMRole
	case TypeIAMInstanceProfile:
		res.IAMInstanceProfile = &IAMInstanceProfile{}
		target = res.IAMInstanceProfile
	case TypeInstance:
		res.Instance = &Instance{}
		target = res.Instance
	default:
		return nil, errors.New(errors.ErrStackDecode, "unsupported resource type",
			map[string]interface{}{
				"type": stub.Type,
				"name": stub.Name,
			}, nil)
	}

	if diags := gohcl.DecodeBody(stub.Body, ctx, target); diags.HasErrors() {
		return nil, errors.New(errors.ErrStackDecode, "failed to decode resource block",
			map[string]interface{}{
				"address": res.Address(),
			}, fmt.Errorf("%s", diags.Error()))
	}
	return res, nil
}

// ctyToGo lowers a cty value to plain Go values for storage and rendering
func ctyToGo(v cty.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString()
	case t == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f
	case t == cty.Bool:
		return v.True()
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		out := make([]interface{}, 0)
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ctyToGo(ev))
		}
		return out
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]interface{})
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			out[kv.AsString()] = ctyToGo(ev)
		}
		return out
	}
	return nil
}
