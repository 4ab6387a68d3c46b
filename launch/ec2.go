// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/Vui-Chee/korasi/internal/logging"
)

const (
	// AppTag marks every resource created by this tool.
	AppTag = "korasi"
	// SSHKeyName is the key pair shared by all instances of this tool.
	SSHKeyName = "korasi-ssh-key"
	// SSHSecurityGroup allows SSH ingress from the caller's address.
	SSHSecurityGroup = "korasi-allow-ssh"

	checkIPURL = "https://checkip.amazonaws.com"
)

// EC2 implements API over aws-sdk-go-v2.
type EC2 struct {
	client *ec2.Client
}

// LoadAWSConfig resolves shared AWS configuration for a profile and
// region. Credential discovery itself is the SDK's business.
func LoadAWSConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// NewEC2 returns an EC2 provisioner for the given AWS configuration.
func NewEC2(cfg aws.Config) *EC2 {
	return &EC2{client: ec2.NewFromConfig(cfg)}
}

func appTagSpec(rt types.ResourceType) types.TagSpecification {
	return types.TagSpecification{
		ResourceType: rt,
		Tags: []types.Tag{{
			Key:   aws.String("application"),
			Value: aws.String(AppTag),
		}},
	}
}

// classify maps provider error codes onto the provisioning taxonomy.
func classify(err error) error {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return err
	}
	code := ae.ErrorCode()
	switch {
	case code == "AuthFailure" || code == "UnauthorizedOperation" || code == "ExpiredToken":
		return fmt.Errorf("%w: %s", ErrAuth, ae.ErrorMessage())
	case strings.Contains(code, "LimitExceeded") || code == "InsufficientInstanceCapacity":
		return fmt.Errorf("%w: %s", ErrQuota, ae.ErrorMessage())
	}
	return err
}

// Launch implements API.
func (e *EC2) Launch(ctx context.Context, spec Spec) (string, error) {
	in := &ec2.RunInstancesInput{
		ImageId:           aws.String(spec.ImageID),
		InstanceType:      types.InstanceType(spec.InstanceType),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		TagSpecifications: []types.TagSpecification{appTagSpec(types.ResourceTypeInstance)},
	}
	if spec.KeyName != "" {
		in.KeyName = aws.String(spec.KeyName)
	}
	if len(spec.SecurityGroupIDs) != 0 {
		in.SecurityGroupIds = spec.SecurityGroupIDs
	}
	if spec.UserData != "" {
		in.UserData = aws.String(spec.UserData)
	}
	out, err := e.client.RunInstances(ctx, in)
	if err != nil {
		return "", classify(err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", errors.New("launch returned no instance")
	}
	return *out.Instances[0].InstanceId, nil
}

// Describe implements API.
func (e *EC2) Describe(ctx context.Context, id string) (Status, error) {
	out, err := e.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return Status{}, classify(err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			st := Status{State: Booting}
			if inst.State != nil {
				switch inst.State.Name {
				case types.InstanceStateNameRunning:
					st.State = Ready
				case types.InstanceStateNameShuttingDown, types.InstanceStateNameStopping:
					st.State = Terminating
				case types.InstanceStateNameTerminated:
					st.State = Terminated
				}
			}
			switch {
			case inst.PublicDnsName != nil && *inst.PublicDnsName != "":
				st.Address = *inst.PublicDnsName
			case inst.PublicIpAddress != nil:
				st.Address = *inst.PublicIpAddress
			}
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("instance %s not found", id)
}

// Terminate implements API.
func (e *EC2) Terminate(ctx context.Context, id string) error {
	_, err := e.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	return classifyNil(err)
}

// Tag implements API.
func (e *EC2) Tag(ctx context.Context, id string, labels map[string]string) error {
	tags := make([]types.Tag, 0, len(labels))
	for k, v := range labels {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := e.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      tags,
	})
	return classifyNil(err)
}

// Summary describes one of this tool's instances for listing.
type Summary struct {
	ID      string
	Name    string
	State   string
	Address string
}

// List enumerates the instances carrying the tool's application tag,
// in every lifecycle state.
func (e *EC2) List(ctx context.Context) ([]Summary, error) {
	out, err := e.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:application"), Values: []string{AppTag}},
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	return summarize(out), nil
}

func summarize(out *ec2.DescribeInstancesOutput) []Summary {
	var sums []Summary
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			s := Summary{ID: aws.ToString(inst.InstanceId)}
			if inst.State != nil {
				s.State = string(inst.State.Name)
			}
			switch {
			case inst.PublicDnsName != nil && *inst.PublicDnsName != "":
				s.Address = *inst.PublicDnsName
			case inst.PublicIpAddress != nil:
				s.Address = *inst.PublicIpAddress
			}
			for _, tag := range inst.Tags {
				if aws.ToString(tag.Key) == "Name" {
					s.Name = aws.ToString(tag.Value)
				}
			}
			sums = append(sums, s)
		}
	}
	return sums
}

func classifyNil(err error) error {
	if err == nil {
		return nil
	}
	return classify(err)
}

// EnsureKeyPair creates the shared ed25519 key pair and saves its PEM
// read-only at pemPath. When the pair already exists it is reused, on
// the assumption the caller saved the material earlier.
func (e *EC2) EnsureKeyPair(ctx context.Context, pemPath string) (string, error) {
	out, err := e.client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName:           aws.String(SSHKeyName),
		KeyType:           types.KeyTypeEd25519,
		KeyFormat:         types.KeyFormatPem,
		TagSpecifications: []types.TagSpecification{appTagSpec(types.ResourceTypeKeyPair)},
	})
	if err == nil {
		if out.KeyMaterial == nil {
			return "", errors.New("create key pair returned no material")
		}
		if err := os.WriteFile(pemPath, []byte(*out.KeyMaterial), 0o400); err != nil {
			return "", fmt.Errorf("save private key %q: %w", pemPath, err)
		}
		logging.Info("created key pair", zap.String("name", SSHKeyName), zap.String("pem", pemPath))
		return SSHKeyName, nil
	}

	desc, derr := e.client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{SSHKeyName},
	})
	if derr != nil || len(desc.KeyPairs) == 0 {
		return "", fmt.Errorf("no usable key pair: %w", classify(err))
	}
	if _, serr := os.Stat(pemPath); serr != nil {
		return "", fmt.Errorf("key pair %s exists but %q is missing -- delete the remote pair or restore the file", SSHKeyName, pemPath)
	}
	logging.Debug("reusing key pair", zap.String("name", SSHKeyName))
	return SSHKeyName, nil
}

// EnsureSSHIngress finds or creates the tool's security group and
// authorizes SSH from the caller's current public address.
func (e *EC2) EnsureSSHIngress(ctx context.Context) (string, error) {
	if id, err := e.findSecurityGroup(ctx); err == nil && id != "" {
		return id, nil
	}

	created, err := e.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(SSHSecurityGroup),
		Description:       aws.String("SSH ingress for korasi instances"),
		TagSpecifications: []types.TagSpecification{appTagSpec(types.ResourceTypeSecurityGroup)},
	})
	if err != nil {
		return "", classify(err)
	}
	id := aws.ToString(created.GroupId)

	ip, err := publicIP(ctx)
	if err != nil {
		return "", fmt.Errorf("discover public address: %w", err)
	}
	_, err = e.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(id),
		IpPermissions: []types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(22),
			ToPort:     aws.Int32(22),
			IpRanges:   []types.IpRange{{CidrIp: aws.String(ip + "/32")}},
		}},
	})
	if err != nil {
		return "", classify(err)
	}
	logging.Info("created security group", zap.String("id", id), zap.String("ingress", ip))
	return id, nil
}

func (e *EC2) findSecurityGroup(ctx context.Context) (string, error) {
	out, err := e.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("group-name"), Values: []string{SSHSecurityGroup}},
			{Name: aws.String("tag:application"), Values: []string{AppTag}},
		},
	})
	if err != nil || len(out.SecurityGroups) == 0 {
		return "", err
	}
	return aws.ToString(out.SecurityGroups[0].GroupId), nil
}

// publicIP asks checkip.amazonaws.com for the caller's address.
func publicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkIPURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", checkIPURL, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
