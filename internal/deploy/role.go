package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/sirupsen/logrus"
)

const (
	// lambdaAssumeRolePolicy はLambdaサービスにロールの引き受けを許可する信頼ポリシー。
	lambdaAssumeRolePolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"lambda.amazonaws.com"},"Action":"sts:AssumeRole"}]}`
	// basicExecutionPolicyARN はCloudWatch Logsへの書き込みを許可するマネージドポリシー。
	basicExecutionPolicyARN = "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
)

// RoleRepository は関数の実行ロールを管理する。
type RoleRepository struct {
	api IAMAPI
	log logrus.FieldLogger
}

// NewRoleRepository はRoleRepositoryを生成する。
func NewRoleRepository(api IAMAPI, log logrus.FieldLogger) *RoleRepository {
	return &RoleRepository{api: api, log: log}
}

// Ensure はロールが存在しなければ作成し、ARNを返す。createdは新規作成したかどうか。
func (r *RoleRepository) Ensure(ctx context.Context, name string) (arn string, created bool, err error) {
	out, err := r.api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err == nil {
		arn = aws.ToString(out.Role.Arn)
	} else {
		var notFound *iamtypes.NoSuchEntityException
		if !errors.As(err, &notFound) {
			return "", false, fmt.Errorf("ロール %s の取得に失敗: %w", name, err)
		}
		createOut, err := r.api.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(name),
			AssumeRolePolicyDocument: aws.String(lambdaAssumeRolePolicy),
		})
		if err != nil {
			return "", false, fmt.Errorf("ロール %s の作成に失敗: %w", name, err)
		}
		arn = aws.ToString(createOut.Role.Arn)
		created = true
		r.log.WithField("role", name).Info("ロールを作成")
	}

	// アタッチ済みでも成功するため毎回実行する。
	if _, err := r.api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(name),
		PolicyArn: aws.String(basicExecutionPolicyARN),
	}); err != nil {
		return "", false, fmt.Errorf("ロール %s へのポリシーのアタッチに失敗: %w", name, err)
	}
	return arn, created, nil
}

// Delete はポリシーをデタッチしてからロールを削除する。存在しない場合は何もしない。
func (r *RoleRepository) Delete(ctx context.Context, name string) error {
	var notFound *iamtypes.NoSuchEntityException
	if _, err := r.api.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(name),
		PolicyArn: aws.String(basicExecutionPolicyARN),
	}); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("ロール %s からのポリシーのデタッチに失敗: %w", name, err)
	}
	if _, err := r.api.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)}); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("ロール %s の削除に失敗: %w", name, err)
	}
	return nil
}
