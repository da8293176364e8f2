// Package stack decodes declarative HCL stack configurations into the typed
// desired-state model the planner and apply engine operate on.
package stack

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/stackpilot/stackpilot/errors"
)

// Resource types the engine understands, in dependency order
const (
	TypeVPC                = "aws_vpc"
	TypeSubnet             = "aws_subnet"
	TypeInternetGateway    = "aws_internet_gateway"
	TypeSecurityGroup      = "aws_security_group"
	TypeIAMRole            = "aws_iam_role"
	TypeIAMInstanceProfile = "aws_iam_instance_profile"
	TypeInstance           = "aws_instance"
)

// typeRanks orders resource creation; deletes run in reverse
var typeRanks = map[string]int{
	TypeVPC:                0,
	TypeInternetGateway:    1,
	TypeSubnet:             1,
	TypeSecurityGroup:      2,
	TypeIAMRole:            3,
	TypeIAMInstanceProfile: 4,
	TypeInstance:           5,
}

// KnownType reports whether the engine can manage the given resource type
func KnownType(typ string) bool {
	_, ok := typeRanks[typ]
	return ok
}

// Rank returns the dependency rank for a resource type. Unknown types sort last.
func Rank(typ string) int {
	if r, ok := typeRanks[typ]; ok {
		return r
	}
	return len(typeRanks)
}

// Resource is one decoded resource block. Exactly one of the typed payload
// fields is non-nil, matching Type.
type Resource struct {
	Type string
	Name string

	VPC                *VPC
	Subnet             *Subnet
	InternetGateway    *InternetGateway
	SecurityGroup      *SecurityGroup
	IAMRole            *IAMRole
	IAMInstanceProfile *IAMInstanceProfile
	Instance           *Instance
}

// Address returns the resource address in type.name form
func (r *Resource) Address() string {
	return r.Type + "." + r.Name
}

// Rank returns the dependency rank of this resource
func (r *Resource) Rank() int {
	return Rank(r.Type)
}

// payload returns the typed body for the resource
func (r *Resource) payload() interface{} {
	switch r.Type {
	case TypeVPC:
		return r.VPC
	case TypeSubnet:
		return r.Subnet
	case TypeInternetGateway:
		return r.InternetGateway
	case TypeSecurityGroup:
		return r.SecurityGroup
	case TypeIAMRole:
		return r.IAMRole
	case TypeIAMInstanceProfile:
		return r.IAMInstanceProfile
	case TypeInstance:
		return r.Instance
	}
	return nil
}

// Attributes renders the resource body as a JSON-normalized attribute map,
// the same shape the state file stores
func (r *Resource) Attributes() (map[string]interface{}, error) {
	p := r.payload()
	if p == nil {
		return nil, errors.New(errors.ErrStackValidate, "resource has no decoded body",
			map[string]interface{}{
				"address": r.Address(),
			}, nil)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]interface{})
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Stack is a fully decoded desired-state configuration
type Stack struct {
	Provider  *Provider
	Variables []Variable
	Resources []Resource
	Outputs   []Output
}

// Empty returns a stack with no resources, used to plan a full destroy
func Empty() *Stack {
	return &Stack{}
}

// Resource looks up a resource by address
func (s *Stack) Resource(address string) *Resource {
	for i := range s.Resources {
		if s.Resources[i].Address() == address {
			return &s.Resources[i]
		}
	}
	return nil
}

// Addresses returns all resource addresses in creation order
func (s *Stack) Addresses() []string {
	out := make([]string, 0, len(s.Resources))
	for i := range s.Resources {
		out = append(out, s.Resources[i].Address())
	}
	return out
}

// sortResources fixes creation order: dependency rank, then address
func (s *Stack) sortResources() {
	sort.SliceStable(s.Resources, func(i, j int) bool {
		ri, rj := s.Resources[i].Rank(), s.Resources[j].Rank()
		if ri != rj {
			return ri < rj
		}
		return s.Resources[i].Address() < s.Resources[j].Address()
	})
}

// validate enforces the structural rules the decoder cannot express
func (s *Stack) validate() error {
	seen := make(map[string]bool)
	for i := range s.Resources {
		r := &s.Resources[i]
		addr := r.Address()
		if seen[addr] {
			return errors.New(errors.ErrStackValidate, "duplicate resource address",
				map[string]interface{}{
					"address": addr,
				}, nil)
		}
		seen[addr] = true

		switch r.Type {
		case TypeVPC:
			if err := validateCIDR(addr, r.VPC.CIDRBlock); err != nil {
				return err
			}
		case TypeSubnet:
			if err := validateCIDR(addr, r.Subnet.CIDRBlock); err != nil {
				return err
			}
		case TypeSecurityGroup:
			for _, rule := range append(r.SecurityGroup.Ingress, r.SecurityGroup.Egress...) {
				for _, c := range rule.CIDRBlocks {
					if err := validateCIDR(addr, c); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func validateCIDR(address, cidr string) error {
	// References are resolved at apply time and cannot be checked here
	if IsReference(cidr) {
		return nil
	}
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return errors.New(errors.ErrStackValidate, "invalid CIDR block",
			map[string]interface{}{
				"address": address,
				"cidr":    cidr,
			}, err)
	}
	return nil
}

// Reference returns the deferred-reference placeholder for an attribute of a
// managed resource, resolved against state during apply
func Reference(typ, name, attr string) string {
	return fmt.Sprintf("${%s.%s.%s}", typ, name, attr)
}

// IsReference reports whether a value still carries a deferred reference
func IsReference(v string) bool {
	return strings.Contains(v, "${")
}
