package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logstypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/sirupsen/logrus"
)

// logRetentionDays は関数ロググループの保持期間。
const logRetentionDays = 14

// LogGroupRepository は関数のロググループを管理する。
type LogGroupRepository struct {
	api        LogsAPI
	log        logrus.FieldLogger
	retryDelay time.Duration
}

// NewLogGroupRepository はLogGroupRepositoryを生成する。
func NewLogGroupRepository(api LogsAPI, retryDelay time.Duration, log logrus.FieldLogger) *LogGroupRepository {
	return &LogGroupRepository{api: api, log: log, retryDelay: retryDelay}
}

// LogGroupName は関数名に対応するロググループ名を返す。
func LogGroupName(function string) string {
	return "/aws/lambda/" + function
}

// Ensure はロググループを作成し、保持期間を設定する。createdは新規作成したかどうか。
func (r *LogGroupRepository) Ensure(ctx context.Context, name string) (created bool, err error) {
	_, err = r.api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(name)})
	var exists *logstypes.ResourceAlreadyExistsException
	switch {
	case err == nil:
		created = true
	case errors.As(err, &exists):
	default:
		return false, fmt.Errorf("ロググループ %s の作成に失敗: %w", name, err)
	}

	err = retry(ctx, 5, r.retryDelay, func(err error) bool {
		return isAPIErrorCode(err, "OperationAbortedException", "ResourceNotFoundException")
	}, func() error {
		_, err := r.api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    aws.String(name),
			RetentionInDays: aws.Int32(logRetentionDays),
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("ロググループ %s の保持期間の設定に失敗: %w", name, err)
	}
	return created, nil
}

// Delete はロググループを削除する。存在しない場合は何もしない。
func (r *LogGroupRepository) Delete(ctx context.Context, name string) error {
	_, err := r.api.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{LogGroupName: aws.String(name)})
	var notFound *logstypes.ResourceNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("ロググループ %s の削除に失敗: %w", name, err)
	}
	return nil
}
