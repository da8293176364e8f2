package awsd

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/awsd/models"
	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/stack"
)

const (
	packageName = "awsd"
)

// tagSpec builds the tag specification applied at resource creation. The
// Name tag and the managed-by marker are always present.
func (c *Client) tagSpec(rt ec2types.ResourceType, name string, tags map[string]string) []ec2types.TagSpecification {
	out := []ec2types.Tag{
		{Key: aws.String("Name"), Value: aws.String(name)},
		{Key: aws.String(ManagedByKey), Value: aws.String(c.managedBy)},
	}
	for k, v := range tags {
		if k == "Name" || k == ManagedByKey {
			continue
		}
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return []ec2types.TagSpecification{{ResourceType: rt, Tags: out}}
}

// CreateVPC provisions a VPC and returns its id
func (c *Client) CreateVPC(ctx context.Context, name string, spec *stack.VPC) (string, error) {
	logger := zap.L().With(zap.String("package", packageName))

	input := &ec2.CreateVpcInput{
		CidrBlock:         aws.String(spec.CIDRBlock),
		TagSpecifications: c.tagSpec(ec2types.ResourceTypeVpc, name, spec.Tags),
	}
	if spec.InstanceTenancy != nil {
		input.InstanceTenancy = ec2types.Tenancy(*spec.InstanceTenancy)
	}
	out, err := c.ec2.CreateVpc(ctx, input)
	if err != nil {
		return "", errors.New(errors.ErrAWSOperation, "failed to create VPC",
			map[string]interface{}{
				"name": name,
				"cidr": spec.CIDRBlock,
			}, err)
	}
	id := aws.ToString(out.Vpc.VpcId)

	if spec.EnableDNSSupport != nil {
		_, err := c.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            aws.String(id),
			EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: spec.EnableDNSSupport},
		})
		if err != nil {
			return id, errors.New(errors.ErrAWSOperation, "failed to set VPC DNS support",
				map[string]interface{}{
					"vpc_id": id,
				}, err)
		}
	}
	if spec.EnableDNSHostnames != nil {
		_, err := c.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              aws.String(id),
			EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: spec.EnableDNSHostnames},
		})
		if err != nil {
			return id, errors.New(errors.ErrAWSOperation, "failed to set VPC DNS hostnames",
				map[string]interface{}{
					"vpc_id": id,
				}, err)
		}
	}

	logger.Info("VPC created",
		zap.String("operation", "vpc_create"),
		zap.String("vpc_id", id),
	)
	return id, nil
}

// DeleteVPC removes a VPC by id
func (c *Client) DeleteVPC(ctx context.Context, id string) error {
	_, err := c.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(id)})
	if err != nil {
		return errors.New(errors.ErrAWSOperation, "failed to delete VPC",
			map[string]interface{}{
				"vpc_id": id,
			}, err)
	}
	return nil
}

// CreateSubnet provisions a subnet and returns its id
func (c *Client) CreateSubnet(ctx context.Context, name string, spec *stack.Subnet) (string, error) {
	input := &ec2.CreateSubnetInput{
		VpcId:             aws.String(spec.VPCID),
		CidrBlock:         aws.String(spec.CIDRBlock),
		TagSpecifications: c.tagSpec(ec2types.ResourceTypeSubnet, name, spec.Tags),
	}
	if spec.AvailabilityZone != nil {
		input.AvailabilityZone = spec.AvailabilityZone
	}
	out, err := c.ec2.CreateSubnet(ctx, input)
	if err != nil {
		return "", errors.New(errors.ErrAWSOperation, "failed to create subnet",
			map[string]interface{}{
				"name":   name,
				"vpc_id": spec.VPCID,
			}, err)
	}
	id := aws.ToString(out.Subnet.SubnetId)

	if spec.MapPublicIPOnLaunch != nil {
		_, err := c.ec2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(id),
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: spec.MapPublicIPOnLaunch},
		})
		if err != nil {
			return id, errors.New(errors.ErrAWSOperation, "failed to set subnet public IP mapping",
				map[string]interface{}{
					"subnet_id": id,
				}, err)
		}
	}
	return id, nil
}

// DeleteSubnet removes a subnet by id
func (c *Client) DeleteSubnet(ctx context.Context, id string) error {
	_, err := c.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
	if err != nil {
		return errors.New(errors.ErrAWSOperation, "failed to delete subnet",
			map[string]interface{}{
				"subnet_id": id,
			}, err)
	}
	return nil
}

// CreateInternetGateway provisions a gateway, attaches it to the VPC and
// returns its id
func (c *Client) CreateInternetGateway(ctx context.Context, name string, spec *stack.InternetGateway) (string, error) {
	out, err := c.ec2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: c.tagSpec(ec2types.ResourceTypeInternetGateway, name, spec.Tags),
	})
	if err != nil {
		return "", errors.New(errors.ErrAWSOperation, "failed to create internet gateway",
			map[string]interface{}{
				"name": name,
			}, err)
	}
	id := aws.ToString(out.InternetGateway.InternetGatewayId)

	_, err = c.ec2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(id),
		VpcId:             aws.String(spec.VPCID),
	})
	if err != nil {
		return id, errors.New(errors.ErrAWSOperation, "failed to attach internet gateway",
			map[string]interface{}{
				"gateway_id": id,
				"vpc_id":     spec.VPCID,
			}, err)
	}
	return id, nil
}

// DeleteInternetGateway detaches a gateway from its VPC and removes it
func (c *Client) DeleteInternetGateway(ctx context.Context, id, vpcID string) error {
	if vpcID != "" {
		_, err := c.ec2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(id),
			VpcId:             aws.String(vpcID),
		})
		if err != nil {
			return errors.New(errors.ErrAWSOperation, "failed to detach internet gateway",
				map[string]interface{}{
					"gateway_id": id,
					"vpc_id":     vpcID,
				}, err)
		}
	}
	_, err := c.ec2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: aws.String(id),
	})
	if err != nil {
		return errors.New(errors.ErrAWSOperation, "failed to delete internet gateway",
			map[string]interface{}{
				"gateway_id": id,
			}, err)
	}
	return nil
}

// ipPermissions maps rule blocks to the EC2 wire shape
func ipPermissions(rules []stack.SecurityGroupRule) []ec2types.IpPermission {
	out := make([]ec2types.IpPermission, 0, len(rules))
	for _, r := range rules {
		perm := ec2types.IpPermission{
			IpProtocol: aws.String(r.Protocol),
			FromPort:   aws.Int32(int32(r.FromPort)),
			ToPort:     aws.Int32(int32(r.ToPort)),
		}
		for _, c := range r.CIDRBlocks {
			perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{CidrIp: aws.String(c)})
		}
		out = append(out, perm)
	}
	return out
}

// CreateSecurityGroup provisions a security group with its rules
func (c *Client) CreateSecurityGroup(ctx context.Context, name string, spec *stack.SecurityGroup) (string, error) {
	description := "Managed security group"
	if spec.Description != nil {
		description = *spec.Description
	}
	out, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(spec.Name),
		Description:       aws.String(description),
		VpcId:             aws.String(spec.VPCID),
		TagSpecifications: c.tagSpec(ec2types.ResourceTypeSecurityGroup, name, spec.Tags),
	})
	if err != nil {
		return "", errors.New(errors.ErrAWSOperation, "failed to create security group",
			map[string]interface{}{
				"name":   spec.Name,
				"vpc_id": spec.VPCID,
			}, err)
	}
	id := aws.ToString(out.GroupId)

	if len(spec.Ingress) > 0 {
		_, err := c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(id),
			IpPermissions: ipPermissions(spec.Ingress),
		})
		if err != nil {
			return id, errors.New(errors.ErrAWSOperation, "failed to authorize ingress rules",
				map[string]interface{}{
					"group_id": id,
				}, err)
		}
	}
	if len(spec.Egress) > 0 {
		_, err := c.ec2.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       aws.String(id),
			IpPermissions: ipPermissions(spec.Egress),
		})
		if err != nil {
			return id, errors.New(errors.ErrAWSOperation, "failed to authorize egress rules",
				map[string]interface{}{
					"group_id": id,
				}, err)
		}
	}
	return id, nil
}

// DeleteSecurityGroup removes a security group by id
func (c *Client) DeleteSecurityGroup(ctx context.Context, id string) error {
	_, err := c.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
	if err != nil {
		return errors.New(errors.ErrAWSOperation, "failed to delete security group",
			map[string]interface{}{
				"group_id": id,
			}, err)
	}
	return nil
}

// RunInstance launches an EC2 instance and returns its live view
func (c *Client) RunInstance(ctx context.Context, name string, spec *stack.Instance) (*models.Instance, error) {
	logger := zap.L().With(zap.String("package", packageName))

	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(spec.AMI),
		InstanceType:      ec2types.InstanceType(spec.InstanceType),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		TagSpecifications: c.tagSpec(ec2types.ResourceTypeInstance, name, spec.Tags),
	}
	if spec.KeyName != nil {
		input.KeyName = spec.KeyName
	}
	if spec.IAMInstanceProfile != nil {
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{Name: spec.IAMInstanceProfile}
	}
	if spec.Monitoring != nil {
		input.Monitoring = &ec2types.RunInstancesMonitoringEnabled{Enabled: spec.Monitoring}
	}
	if spec.UserData != nil {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(*spec.UserData)))
	}
	if spec.RootBlockDevice != nil {
		ebs := &ec2types.EbsBlockDevice{
			VolumeSize:          aws.Int32(int32(spec.RootBlockDevice.VolumeSize)),
			DeleteOnTermination: spec.RootBlockDevice.DeleteOnTermination,
			Encrypted:           spec.RootBlockDevice.Encrypted,
		}
		if spec.RootBlockDevice.VolumeType != nil {
			ebs.VolumeType = ec2types.VolumeType(*spec.RootBlockDevice.VolumeType)
		}
		input.BlockDeviceMappings = []ec2types.BlockDeviceMapping{
			{DeviceName: aws.String("/dev/xvda"), Ebs: ebs},
		}
	}

	// A public address request has to ride on an explicit primary interface
	if spec.AssociatePublicIP != nil {
		iface := ec2types.InstanceNetworkInterfaceSpecification{
			DeviceIndex:              aws.Int32(0),
			AssociatePublicIpAddress: spec.AssociatePublicIP,
			SubnetId:                 spec.SubnetID,
		}
		iface.Groups = append(iface.Groups, spec.VPCSecurityGroupIDs...)
		input.NetworkInterfaces = []ec2types.InstanceNetworkInterfaceSpecification{iface}
	} else {
		input.SubnetId = spec.SubnetID
		input.SecurityGroupIds = spec.VPCSecurityGroupIDs
	}

	out, err := c.ec2.RunInstances(ctx, input)
	if err != nil {
		return nil, errors.New(errors.ErrAWSOperation, "failed to launch instance",
			map[string]interface{}{
				"name": name,
				"ami":  spec.AMI,
			}, err)
	}
	if len(out.Instances) == 0 {
		return nil, errors.New(errors.ErrAWSOperation, "RunInstances returned no instances",
			map[string]interface{}{
				"name": name,
			}, nil)
	}

	inst := mapInstance(out.Instances[0])
	logger.Info("Instance launched",
		zap.String("operation", "instance_launch"),
		zap.String("instance_id", inst.InstanceID),
		zap.String("instance_type", inst.InstanceType),
	)
	return inst, nil
}

// TerminateInstance terminates an instance by id
func (c *Client) TerminateInstance(ctx context.Context, id string) error {
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return errors.New(errors.ErrAWSOperation, "failed to terminate instance",
			map[string]interface{}{
				"instance_id": id,
			}, err)
	}
	return nil
}

// UpdateTags replaces tags on an existing resource
func (c *Client) UpdateTags(ctx context.Context, id string, tags map[string]string) error {
	ec2Tags := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := c.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
	if err != nil {
		return errors.New(errors.ErrAWSOperation, "failed to update tags",
			map[string]interface{}{
				"resource_id": id,
			}, err)
	}
	return nil
}

// RemoveTags deletes the named tag keys from an existing resource
func (c *Client) RemoveTags(ctx context.Context, id string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ec2Tags := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k)})
	}
	_, err := c.ec2.DeleteTags(ctx, &ec2.DeleteTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
	if err != nil {
		return errors.New(errors.ErrAWSOperation, "failed to remove tags",
			map[string]interface{}{
				"resource_id": id,
			}, err)
	}
	return nil
}

// GetInstance fetches the live view of one instance. A terminated or unknown
// instance yields (nil, nil).
func (c *Client) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.New(errors.ErrAWSOperation, "failed to describe instance",
			map[string]interface{}{
				"instance_id": id,
			}, err)
	}
	for _, res := range out.Reservations {
		for _, i := range res.Instances {
			if i.State != nil && i.State.Name == ec2types.InstanceStateNameTerminated {
				continue
			}
			return mapInstance(i), nil
		}
	}
	return nil, nil
}

// ListInstancesByTag fetches every non-terminated instance carrying the tag
func (c *Client) ListInstancesByTag(ctx context.Context, key, value string) ([]models.Instance, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + key), Values: []string{value}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	})
	if err != nil {
		return nil, errors.New(errors.ErrAWSOperation, "failed to list tagged instances",
			map[string]interface{}{
				"tag_key":   key,
				"tag_value": value,
			}, err)
	}
	var instances []models.Instance
	for _, res := range out.Reservations {
		for _, i := range res.Instances {
			instances = append(instances, *mapInstance(i))
		}
	}
	return instances, nil
}

// GetVPC fetches the live view of a VPC, (nil, nil) when it is gone
func (c *Client) GetVPC(ctx context.Context, id string) (*models.VPC, error) {
	out, err := c.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.New(errors.ErrAWSOperation, "failed to describe VPC",
			map[string]interface{}{
				"vpc_id": id,
			}, err)
	}
	if len(out.Vpcs) == 0 {
		return nil, nil
	}
	v := out.Vpcs[0]
	return &models.VPC{
		VPCID:     aws.ToString(v.VpcId),
		CIDRBlock: aws.ToString(v.CidrBlock),
		State:     string(v.State),
		Tags:      mapTags(v.Tags),
	}, nil
}

// GetSubnet fetches the live view of a subnet, (nil, nil) when it is gone
func (c *Client) GetSubnet(ctx context.Context, id string) (*models.Subnet, error) {
	out, err := c.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.New(errors.ErrAWSOperation, "failed to describe subnet",
			map[string]interface{}{
				"subnet_id": id,
			}, err)
	}
	if len(out.Subnets) == 0 {
		return nil, nil
	}
	s := out.Subnets[0]
	return &models.Subnet{
		SubnetID:            aws.ToString(s.SubnetId),
		VPCID:               aws.ToString(s.VpcId),
		CIDRBlock:           aws.ToString(s.CidrBlock),
		AvailabilityZone:    aws.ToString(s.AvailabilityZone),
		MapPublicIPOnLaunch: aws.ToBool(s.MapPublicIpOnLaunch),
		Tags:                mapTags(s.Tags),
	}, nil
}

// GetSecurityGroup fetches the live view of a security group, (nil, nil)
// when it is gone
func (c *Client) GetSecurityGroup(ctx context.Context, id string) (*models.SecurityGroup, error) {
	out, err := c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.New(errors.ErrAWSOperation, "failed to describe security group",
			map[string]interface{}{
				"group_id": id,
			}, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}
	g := out.SecurityGroups[0]
	return &models.SecurityGroup{
		GroupID:     aws.ToString(g.GroupId),
		GroupName:   aws.ToString(g.GroupName),
		Description: aws.ToString(g.Description),
		VPCID:       aws.ToString(g.VpcId),
		Ingress:     mapRules(g.IpPermissions),
		Egress:      mapRules(g.IpPermissionsEgress),
		Tags:        mapTags(g.Tags),
	}, nil
}

func mapInstance(i ec2types.Instance) *models.Instance {
	inst := &models.Instance{
		InstanceID:     aws.ToString(i.InstanceId),
		InstanceType:   string(i.InstanceType),
		AMI:            aws.ToString(i.ImageId),
		PrivateIP:      aws.ToString(i.PrivateIpAddress),
		PublicIP:       aws.ToString(i.PublicIpAddress),
		KeyName:        aws.ToString(i.KeyName),
		SubnetID:       aws.ToString(i.SubnetId),
		PrivateDNSName: aws.ToString(i.PrivateDnsName),
		PublicDNSName:  aws.ToString(i.PublicDnsName),
		Tags:           mapTags(i.Tags),
	}
	if i.State != nil {
		inst.State = string(i.State.Name)
	}
	if i.Placement != nil {
		inst.AvailabilityZone = aws.ToString(i.Placement.AvailabilityZone)
	}
	if i.LaunchTime != nil {
		inst.LaunchTime = i.LaunchTime.String()
	}
	if i.IamInstanceProfile != nil {
		inst.IAMInstanceProfile = aws.ToString(i.IamInstanceProfile.Arn)
	}
	if i.Monitoring != nil {
		inst.Monitoring = i.Monitoring.State == ec2types.MonitoringStateEnabled
	}
	for _, sg := range i.SecurityGroups {
		inst.SecurityGroupIDs = append(inst.SecurityGroupIDs, aws.ToString(sg.GroupId))
	}
	for _, bd := range i.BlockDeviceMappings {
		dev := models.BlockDevice{DeviceName: aws.ToString(bd.DeviceName)}
		if bd.Ebs != nil {
			dev.VolumeID = aws.ToString(bd.Ebs.VolumeId)
		}
		inst.BlockDevices = append(inst.BlockDevices, dev)
	}
	return inst
}

func mapTags(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string)
	for _, t := range tags {
		if t.Key != nil && t.Value != nil {
			out[*t.Key] = *t.Value
		}
	}
	return out
}

func mapRules(perms []ec2types.IpPermission) []models.Rule {
	out := make([]models.Rule, 0, len(perms))
	for _, p := range perms {
		r := models.Rule{
			FromPort: int(aws.ToInt32(p.FromPort)),
			ToPort:   int(aws.ToInt32(p.ToPort)),
			Protocol: aws.ToString(p.IpProtocol),
		}
		for _, ipr := range p.IpRanges {
			r.CIDRBlocks = append(r.CIDRBlocks, aws.ToString(ipr.CidrIp))
		}
		out = append(out, r)
	}
	return out
}
