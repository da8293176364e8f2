package awsd

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/stack"
)

func TestCreateRole_ReturnsARN(t *testing.T) {
	var createInput *iam.CreateRoleInput

	mockIAM := &MockIAMClient{
		CreateRoleFunc: func(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
			createInput = params
			return &iam.CreateRoleOutput{Role: &iamtypes.Role{
				Arn: aws.String("arn:aws:iam::000000000000:role/jenkins"),
			}}, nil
		},
	}

	client := newTestClient(&MockEC2Client{}, mockIAM)
	arn, err := client.CreateRole(context.Background(), &stack.IAMRole{
		Name:             "jenkins",
		AssumeRolePolicy: `{"Version":"2012-10-17"}`,
		Tags:             map[string]string{"Env": "dev"},
	})
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::000000000000:role/jenkins", arn)

	require.NotNil(t, createInput)
	assert.Equal(t, "jenkins", aws.ToString(createInput.RoleName))
	assert.Equal(t, `{"Version":"2012-10-17"}`, aws.ToString(createInput.AssumeRolePolicyDocument))
	require.Len(t, createInput.Tags, 1)
}

func TestCreateInstanceProfile_BindsRole(t *testing.T) {
	var addInput *iam.AddRoleToInstanceProfileInput

	mockIAM := &MockIAMClient{
		CreateInstanceProfileFunc: func(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
			return &iam.CreateInstanceProfileOutput{InstanceProfile: &iamtypes.InstanceProfile{
				Arn: aws.String("arn:aws:iam::000000000000:instance-profile/jenkins"),
			}}, nil
		},
		AddRoleToInstanceProfileFunc: func(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
			addInput = params
			return &iam.AddRoleToInstanceProfileOutput{}, nil
		},
	}

	client := newTestClient(&MockEC2Client{}, mockIAM)
	arn, err := client.CreateInstanceProfile(context.Background(), &stack.IAMInstanceProfile{
		Name: "jenkins-profile",
		Role: "jenkins",
	})
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::000000000000:instance-profile/jenkins", arn)

	require.NotNil(t, addInput)
	assert.Equal(t, "jenkins-profile", aws.ToString(addInput.InstanceProfileName))
	assert.Equal(t, "jenkins", aws.ToString(addInput.RoleName))
}

func TestDeleteRole_ToleratesNotFound(t *testing.T) {
	mockIAM := &MockIAMClient{
		DeleteRoleFunc: func(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NoSuchEntity", Message: "role not found"}
		},
	}

	client := newTestClient(&MockEC2Client{}, mockIAM)
	assert.NoError(t, client.DeleteRole(context.Background(), "gone"))
}

func TestDeleteRole_PropagatesOtherErrors(t *testing.T) {
	mockIAM := &MockIAMClient{
		DeleteRoleFunc: func(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "DeleteConflict", Message: "role in use"}
		},
	}

	client := newTestClient(&MockEC2Client{}, mockIAM)
	err := client.DeleteRole(context.Background(), "busy")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAWSOperation))
}

func TestDeleteInstanceProfile_UnbindsRoleFirst(t *testing.T) {
	var order []string

	mockIAM := &MockIAMClient{
		RemoveRoleFromInstanceProfileFunc: func(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
			order = append(order, "remove-role")
			return &iam.RemoveRoleFromInstanceProfileOutput{}, nil
		},
		DeleteInstanceProfileFunc: func(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
			order = append(order, "delete-profile")
			return &iam.DeleteInstanceProfileOutput{}, nil
		},
	}

	client := newTestClient(&MockEC2Client{}, mockIAM)
	require.NoError(t, client.DeleteInstanceProfile(context.Background(), "jenkins-profile", "jenkins"))
	assert.Equal(t, []string{"remove-role", "delete-profile"}, order)
}
