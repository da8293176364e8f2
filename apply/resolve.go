package apply

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

// refPattern matches deferred references of the form ${type.name.attr}
var refPattern = regexp.MustCompile(`\$\{([a-z0-9_]+)\.([A-Za-z0-9_-]+)\.([a-z_]+)\}`)

// lookupRef fetches a recorded attribute for a reference target
func lookupRef(st *state.State, typ, name, attr string) (interface{}, error) {
	rec := st.Resource(typ + "." + name)
	if rec == nil || len(rec.Instances) == 0 {
		return nil, errors.New(errors.ErrApply, "reference to resource not yet in state",
			map[string]interface{}{
				"address": typ + "." + name,
			}, nil)
	}
	val, ok := rec.Instances[0].Attributes[attr]
	if !ok {
		return nil, errors.New(errors.ErrApply, "referenced attribute not recorded",
			map[string]interface{}{
				"address":   typ + "." + name,
				"attribute": attr,
			}, nil)
	}
	return val, nil
}

// resolveString settles references inside one string value. A string that is
// exactly one reference keeps the referenced value's type.
func resolveString(s string, st *state.State) (interface{}, error) {
	if !stack.IsReference(s) {
		return s, nil
	}
	if m := refPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		return lookupRef(st, m[1], m[2], m[3])
	}

	var resolveErr error
	out := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := refPattern.FindStringSubmatch(match)
		val, err := lookupRef(st, m[1], m[2], m[3])
		if err != nil {
			resolveErr = err
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

// resolveAny walks a JSON-normalized value and settles every reference
func resolveAny(v interface{}, st *state.State) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return resolveString(t, st)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			r, err := resolveAny(e, st)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			r, err := resolveAny(e, st)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveResource settles all references in a desired resource and returns
// the resolved typed resource plus its attribute map
func resolveResource(res *stack.Resource, st *state.State) (*stack.Resource, map[string]interface{}, error) {
	attrs, err := res.Attributes()
	if err != nil {
		return nil, nil, err
	}
	resolvedVal, err := resolveAny(attrs, st)
	if err != nil {
		return nil, nil, err
	}
	resolved := resolvedVal.(map[string]interface{})

	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, nil, errors.New(errors.ErrApply, "failed to encode resolved attributes",
			map[string]interface{}{
				"address": res.Address(),
			}, err)
	}

	out := &stack.Resource{Type: res.Type, Name: res.Name}
	var target interface{}
	switch res.Type {
	case stack.TypeVPC:
		out.VPC = &stack.VPC{}
		target = out.VPC
	case stack.TypeSubnet:
		out.Subnet = &stack.Subnet{}
		target = out.Subnet
	case stack.TypeInternetGateway:
		out.InternetGateway = &stack.InternetGateway{}
		target = out.InternetGateway
	case stack.TypeSecurityGroup:
		out.SecurityGroup = &stack.SecurityGroup{}
		target = out.SecurityGroup
	case stack.TypeIAMRole:
		out.IAMRole = &stack.IAMRole{}
		target = out.IAMRole
	case stack.TypeIAMInstanceProfile:
		out.IAMInstanceProfile = &stack.IAMInstanceProfile{}
		target = out.IAMInstanceProfile
	case stack.TypeInstance:
		out.Instance = &stack.Instance{}
		target = out.Instance
	default:
		return nil, nil, errors.New(errors.ErrApply, "unsupported resource type",
			map[string]interface{}{
				"type": res.Type,
			}, nil)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, nil, errors.New(errors.ErrApply, "failed to decode resolved attributes",
			map[string]interface{}{
				"address": res.Address(),
			}, err)
	}
	return out, resolved, nil
}
