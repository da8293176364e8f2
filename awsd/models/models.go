package models

// Instance represents the live view of an EC2 instance
type Instance struct {
	InstanceID         string
	InstanceType       string
	AMI                string
	State              string
	PrivateIP          string
	PublicIP           string
	KeyName            string
	SubnetID           string
	AvailabilityZone   string
	LaunchTime         string
	PrivateDNSName     string
	PublicDNSName      string
	IAMInstanceProfile string
	Monitoring         bool
	SecurityGroupIDs   []string
	BlockDevices       []BlockDevice
	Tags               map[string]string
}

// BlockDevice represents a block device mapping on an instance
type BlockDevice struct {
	DeviceName string
	VolumeID   string
}

// VPC represents the live view of a VPC
type VPC struct {
	VPCID     string
	CIDRBlock string
	State     string
	Tags      map[string]string
}

// Subnet represents the live view of a subnet
type Subnet struct {
	SubnetID            string
	VPCID               string
	CIDRBlock           string
	AvailabilityZone    string
	MapPublicIPOnLaunch bool
	Tags                map[string]string
}

// SecurityGroup represents the live view of a security group
type SecurityGroup struct {
	GroupID     string
	GroupName   string
	Description string
	VPCID       string
	Ingress     []Rule
	Egress      []Rule
	Tags        map[string]string
}

// Rule is a single security group permission
type Rule struct {
	FromPort   int
	ToPort     int
	Protocol   string
	CIDRBlocks []string
}
