package stack

// Typed bodies for the resource blocks the engine understands. Each struct
// carries hcl tags for decoding and json tags so the same shape lands in the
// state file attribute maps.

// VPC is the body of an aws_vpc resource block
type VPC struct {
	CIDRBlock          string            `hcl:"cidr_block" json:"cidr_block"`
	EnableDNSSupport   *bool             `hcl:"enable_dns_support,optional" json:"enable_dns_support,omitempty"`
	EnableDNSHostnames *bool             `hcl:"enable_dns_hostnames,optional" json:"enable_dns_hostnames,omitempty"`
	InstanceTenancy    *string           `hcl:"instance_tenancy,optional" json:"instance_tenancy,omitempty"`
	Tags               map[string]string `hcl:"tags,optional" json:"tags,omitempty"`
}

// Subnet is the body of an aws_subnet resource block
type Subnet struct {
	VPCID               string            `hcl:"vpc_id" json:"vpc_id"`
	CIDRBlock           string            `hcl:"cidr_block" json:"cidr_block"`
	AvailabilityZone    *string           `hcl:"availability_zone,optional" json:"availability_zone,omitempty"`
	MapPublicIPOnLaunch *bool             `hcl:"map_public_ip_on_launch,optional" json:"map_public_ip_on_launch,omitempty"`
	Tags                map[string]string `hcl:"tags,optional" json:"tags,omitempty"`
}

// InternetGateway is the body of an aws_internet_gateway resource block
type InternetGateway struct {
	VPCID string            `hcl:"vpc_id" json:"vpc_id"`
	Tags  map[string]string `hcl:"tags,optional" json:"tags,omitempty"`
}

// SecurityGroupRule is a single ingress or egress block
type SecurityGroupRule struct {
	FromPort   int      `hcl:"from_port" json:"from_port"`
	ToPort     int      `hcl:"to_port" json:"to_port"`
	Protocol   string   `hcl:"protocol" json:"protocol"`
	CIDRBlocks []string `hcl:"cidr_blocks,optional" json:"cidr_blocks,omitempty"`
}

// SecurityGroup is the body of an aws_security_group resource block
type SecurityGroup struct {
	Name        string              `hcl:"name" json:"name"`
	Description *string             `hcl:"description,optional" json:"description,omitempty"`
	VPCID       string              `hcl:"vpc_id" json:"vpc_id"`
	Ingress     []SecurityGroupRule `hcl:"ingress,block" json:"ingress,omitempty"`
	Egress      []SecurityGroupRule `hcl:"egress,block" json:"egress,omitempty"`
	Tags        map[string]string   `hcl:"tags,optional" json:"tags,omitempty"`
}

// IAMRole is the body of an aws_iam_role resource block
type IAMRole struct {
	Name             string            `hcl:"name" json:"name"`
	AssumeRolePolicy string            `hcl:"assume_role_policy" json:"assume_role_policy"`
	Description      *string           `hcl:"description,optional" json:"description,omitempty"`
	Tags             map[string]string `hcl:"tags,optional" json:"tags,omitempty"`
}

// IAMInstanceProfile is the body of an aws_iam_instance_profile resource block
type IAMInstanceProfile struct {
	Name string `hcl:"name" json:"name"`
	Role string `hcl:"role" json:"role"`
}

// RootBlockDevice is the root_block_device block of an aws_instance
type RootBlockDevice struct {
	VolumeSize          int     `hcl:"volume_size" json:"volume_size"`
	VolumeType          *string `hcl:"volume_type,optional" json:"volume_type,omitempty"`
	DeleteOnTermination *bool   `hcl:"delete_on_termination,optional" json:"delete_on_termination,omitempty"`
	Encrypted           *bool   `hcl:"encrypted,optional" json:"encrypted,omitempty"`
}

// Instance is the body of an aws_instance resource block
type Instance struct {
	AMI                 string            `hcl:"ami" json:"ami"`
	InstanceType        string            `hcl:"instance_type" json:"instance_type"`
	SubnetID            *string           `hcl:"subnet_id,optional" json:"subnet_id,omitempty"`
	VPCSecurityGroupIDs []string          `hcl:"vpc_security_group_ids,optional" json:"vpc_security_group_ids,omitempty"`
	KeyName             *string           `hcl:"key_name,optional" json:"key_name,omitempty"`
	IAMInstanceProfile  *string           `hcl:"iam_instance_profile,optional" json:"iam_instance_profile,omitempty"`
	AssociatePublicIP   *bool             `hcl:"associate_public_ip_address,optional" json:"associate_public_ip_address,omitempty"`
	Monitoring          *bool             `hcl:"monitoring,optional" json:"monitoring,omitempty"`
	UserData            *string           `hcl:"user_data,optional" json:"user_data,omitempty"`
	RootBlockDevice     *RootBlockDevice  `hcl:"root_block_device,block" json:"root_block_device,omitempty"`
	Tags                map[string]string `hcl:"tags,optional" json:"tags,omitempty"`
}

// Provider carries the settings of the provider "aws" block
type Provider struct {
	Name   string
	Region string
}

// Variable is a declared input variable
type Variable struct {
	Name        string
	Description string
	Value       interface{}
}

// Output is a declared output value, possibly holding unresolved
// resource references until apply time
type Output struct {
	Name      string
	Value     interface{}
	Sensitive bool
}
