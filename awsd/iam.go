package awsd

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"

	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/stack"
)

// isNotFound reports whether an AWS API error means the resource is gone
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return strings.Contains(code, "NotFound") || code == "NoSuchEntity"
	}
	return false
}

// CreateRole provisions an IAM role and returns its ARN
func (c *Client) CreateRole(ctx context.Context, spec *stack.IAMRole) (string, error) {
	input := &iam.CreateRoleInput{
		RoleName:                 aws.String(spec.Name),
		AssumeRolePolicyDocument: aws.String(spec.AssumeRolePolicy),
	}
	if spec.Description != nil {
		input.Description = spec.Description
	}
	for k, v := range spec.Tags {
		input.Tags = append(input.Tags, iamtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	out, err := c.iam.CreateRole(ctx, input)
	if err != nil {
		return "", errors.New(errors.ErrAWSOperation, "failed to create IAM role",
			map[string]interface{}{
				"role": spec.Name,
			}, err)
	}
	return aws.ToString(out.Role.Arn), nil
}

// DeleteRole removes an IAM role by name
func (c *Client) DeleteRole(ctx context.Context, name string) error {
	_, err := c.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
	if err != nil && !isNotFound(err) {
		return errors.New(errors.ErrAWSOperation, "failed to delete IAM role",
			map[string]interface{}{
				"role": name,
			}, err)
	}
	return nil
}

// CreateInstanceProfile provisions an instance profile bound to a role and
// returns its ARN
func (c *Client) CreateInstanceProfile(ctx context.Context, spec *stack.IAMInstanceProfile) (string, error) {
	out, err := c.iam.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: aws.String(spec.Name),
	})
	if err != nil {
		return "", errors.New(errors.ErrAWSOperation, "failed to create instance profile",
			map[string]interface{}{
				"profile": spec.Name,
			}, err)
	}
	_, err = c.iam.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: aws.String(spec.Name),
		RoleName:            aws.String(spec.Role),
	})
	if err != nil {
		return "", errors.New(errors.ErrAWSOperation, "failed to bind role to instance profile",
			map[string]interface{}{
				"profile": spec.Name,
				"role":    spec.Role,
			}, err)
	}
	return aws.ToString(out.InstanceProfile.Arn), nil
}

// DeleteInstanceProfile unbinds the role and removes the profile
func (c *Client) DeleteInstanceProfile(ctx context.Context, name, role string) error {
	if role != "" {
		_, err := c.iam.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: aws.String(name),
			RoleName:            aws.String(role),
		})
		if err != nil && !isNotFound(err) {
			return errors.New(errors.ErrAWSOperation, "failed to unbind role from instance profile",
				map[string]interface{}{
					"profile": name,
					"role":    role,
				}, err)
		}
	}
	_, err := c.iam.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: aws.String(name),
	})
	if err != nil && !isNotFound(err) {
		return errors.New(errors.ErrAWSOperation, "failed to delete instance profile",
			map[string]interface{}{
				"profile": name,
			}, err)
	}
	return nil
}
