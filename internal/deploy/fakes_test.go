package deploy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logstypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

const (
	testRegion  = "us-east-1"
	testAccount = "123456789012"
)

type fakeIAM struct {
	roles    map[string]string
	attached map[string]bool
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{roles: map[string]string{}, attached: map[string]bool{}}
}

func (f *fakeIAM) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	arn, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: aws.String("no such role")}
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{Arn: aws.String(arn)}}, nil
}

func (f *fakeIAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	name := aws.ToString(in.RoleName)
	arn := fmt.Sprintf("arn:aws:iam::%s:role/%s", testAccount, name)
	f.roles[name] = arn
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{Arn: aws.String(arn)}}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.attached[aws.ToString(in.RoleName)] = true
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	delete(f.attached, aws.ToString(in.RoleName))
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: aws.String("no such role")}
	}
	delete(f.roles, name)
	return &iam.DeleteRoleOutput{}, nil
}

type fakeLambda struct {
	functions   map[string]*lambda.CreateFunctionInput
	permissions map[string]map[string]string
	// createFailures は作成を失敗させる残り回数。
	createFailures int
	createCalls    int
	codeUpdates    int
}

func newFakeLambda() *fakeLambda {
	return &fakeLambda{functions: map[string]*lambda.CreateFunctionInput{}, permissions: map[string]map[string]string{}}
}

func functionARN(name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", testRegion, testAccount, name)
}

func (f *fakeLambda) GetFunction(_ context.Context, in *lambda.GetFunctionInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	name := aws.ToString(in.FunctionName)
	if _, ok := f.functions[name]; !ok {
		return nil, &lambdatypes.ResourceNotFoundException{Message: aws.String("function not found")}
	}
	return &lambda.GetFunctionOutput{Configuration: &lambdatypes.FunctionConfiguration{FunctionArn: aws.String(functionARN(name))}}, nil
}

func (f *fakeLambda) GetFunctionConfiguration(_ context.Context, in *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	return &lambda.GetFunctionConfigurationOutput{
		FunctionName:     in.FunctionName,
		State:            lambdatypes.StateActive,
		LastUpdateStatus: lambdatypes.LastUpdateStatusSuccessful,
	}, nil
}

func (f *fakeLambda) CreateFunction(_ context.Context, in *lambda.CreateFunctionInput, _ ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	f.createCalls++
	if f.createFailures > 0 {
		f.createFailures--
		return nil, &lambdatypes.InvalidParameterValueException{Message: aws.String("The role defined for the function cannot be assumed by Lambda.")}
	}
	name := aws.ToString(in.FunctionName)
	f.functions[name] = in
	return &lambda.CreateFunctionOutput{FunctionArn: aws.String(functionARN(name))}, nil
}

func (f *fakeLambda) UpdateFunctionConfiguration(_ context.Context, in *lambda.UpdateFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	fn, ok := f.functions[aws.ToString(in.FunctionName)]
	if !ok {
		return nil, &lambdatypes.ResourceNotFoundException{Message: aws.String("function not found")}
	}
	fn.Environment = in.Environment
	return &lambda.UpdateFunctionConfigurationOutput{}, nil
}

func (f *fakeLambda) UpdateFunctionCode(_ context.Context, in *lambda.UpdateFunctionCodeInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	if _, ok := f.functions[aws.ToString(in.FunctionName)]; !ok {
		return nil, &lambdatypes.ResourceNotFoundException{Message: aws.String("function not found")}
	}
	f.codeUpdates++
	return &lambda.UpdateFunctionCodeOutput{}, nil
}

func (f *fakeLambda) AddPermission(_ context.Context, in *lambda.AddPermissionInput, _ ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	name := aws.ToString(in.FunctionName)
	if f.permissions[name] == nil {
		f.permissions[name] = map[string]string{}
	}
	id := aws.ToString(in.StatementId)
	if _, ok := f.permissions[name][id]; ok {
		return nil, &lambdatypes.ResourceConflictException{Message: aws.String("statement exists")}
	}
	f.permissions[name][id] = aws.ToString(in.SourceArn)
	return &lambda.AddPermissionOutput{}, nil
}

func (f *fakeLambda) RemovePermission(_ context.Context, in *lambda.RemovePermissionInput, _ ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error) {
	name := aws.ToString(in.FunctionName)
	id := aws.ToString(in.StatementId)
	if _, ok := f.permissions[name][id]; !ok {
		return nil, &lambdatypes.ResourceNotFoundException{Message: aws.String("statement not found")}
	}
	delete(f.permissions[name], id)
	return &lambda.RemovePermissionOutput{}, nil
}

func (f *fakeLambda) DeleteFunction(_ context.Context, in *lambda.DeleteFunctionInput, _ ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	name := aws.ToString(in.FunctionName)
	if _, ok := f.functions[name]; !ok {
		return nil, &lambdatypes.ResourceNotFoundException{Message: aws.String("function not found")}
	}
	delete(f.functions, name)
	return &lambda.DeleteFunctionOutput{}, nil
}

type fakeLogs struct {
	groups map[string]int32
}

func newFakeLogs() *fakeLogs {
	return &fakeLogs{groups: map[string]int32{}}
}

func (f *fakeLogs) CreateLogGroup(_ context.Context, in *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	name := aws.ToString(in.LogGroupName)
	if _, ok := f.groups[name]; ok {
		return nil, &logstypes.ResourceAlreadyExistsException{Message: aws.String("exists")}
	}
	f.groups[name] = 0
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (f *fakeLogs) PutRetentionPolicy(_ context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	f.groups[aws.ToString(in.LogGroupName)] = aws.ToInt32(in.RetentionInDays)
	return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
}

func (f *fakeLogs) DeleteLogGroup(_ context.Context, in *cloudwatchlogs.DeleteLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteLogGroupOutput, error) {
	name := aws.ToString(in.LogGroupName)
	if _, ok := f.groups[name]; !ok {
		return nil, &logstypes.ResourceNotFoundException{Message: aws.String("not found")}
	}
	delete(f.groups, name)
	return &cloudwatchlogs.DeleteLogGroupOutput{}, nil
}

type fakeRoute struct {
	key          string
	target       string
	authType     apitypes.AuthorizationType
	authorizerID string
}

type fakeAPIGateway struct {
	seq          int
	apis         map[string]*apigatewayv2.CreateApiInput
	authorizers  map[string]*apigatewayv2.CreateAuthorizerInput
	integrations map[string]*apigatewayv2.CreateIntegrationInput
	routes       map[string]*fakeRoute
	stages       map[string]bool
	createAPIErr error
	apiCreates   int
	routeDeletes int
}

func newFakeAPIGateway() *fakeAPIGateway {
	return &fakeAPIGateway{
		apis:         map[string]*apigatewayv2.CreateApiInput{},
		authorizers:  map[string]*apigatewayv2.CreateAuthorizerInput{},
		integrations: map[string]*apigatewayv2.CreateIntegrationInput{},
		routes:       map[string]*fakeRoute{},
		stages:       map[string]bool{},
	}
}

func (f *fakeAPIGateway) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func endpoint(id string) string {
	return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com", id, testRegion)
}

func notFound() error {
	return &apitypes.NotFoundException{Message: aws.String("not found")}
}

func (f *fakeAPIGateway) CreateApi(_ context.Context, in *apigatewayv2.CreateApiInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateApiOutput, error) {
	if f.createAPIErr != nil {
		return nil, f.createAPIErr
	}
	f.apiCreates++
	id := f.nextID("api")
	f.apis[id] = in
	return &apigatewayv2.CreateApiOutput{ApiId: aws.String(id), ApiEndpoint: aws.String(endpoint(id))}, nil
}

func (f *fakeAPIGateway) UpdateApi(_ context.Context, in *apigatewayv2.UpdateApiInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateApiOutput, error) {
	id := aws.ToString(in.ApiId)
	api, ok := f.apis[id]
	if !ok {
		return nil, notFound()
	}
	api.Description = in.Description
	api.CorsConfiguration = in.CorsConfiguration
	return &apigatewayv2.UpdateApiOutput{ApiId: aws.String(id), ApiEndpoint: aws.String(endpoint(id))}, nil
}

func (f *fakeAPIGateway) DeleteApi(_ context.Context, in *apigatewayv2.DeleteApiInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.DeleteApiOutput, error) {
	id := aws.ToString(in.ApiId)
	if _, ok := f.apis[id]; !ok {
		return nil, notFound()
	}
	delete(f.apis, id)
	delete(f.stages, id)
	return &apigatewayv2.DeleteApiOutput{}, nil
}

func (f *fakeAPIGateway) CreateAuthorizer(_ context.Context, in *apigatewayv2.CreateAuthorizerInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateAuthorizerOutput, error) {
	id := f.nextID("auth")
	f.authorizers[id] = in
	return &apigatewayv2.CreateAuthorizerOutput{AuthorizerId: aws.String(id)}, nil
}

func (f *fakeAPIGateway) UpdateAuthorizer(_ context.Context, in *apigatewayv2.UpdateAuthorizerInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateAuthorizerOutput, error) {
	az, ok := f.authorizers[aws.ToString(in.AuthorizerId)]
	if !ok {
		return nil, notFound()
	}
	az.AuthorizerResultTtlInSeconds = in.AuthorizerResultTtlInSeconds
	az.IdentitySource = in.IdentitySource
	return &apigatewayv2.UpdateAuthorizerOutput{}, nil
}

func (f *fakeAPIGateway) DeleteAuthorizer(_ context.Context, in *apigatewayv2.DeleteAuthorizerInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.DeleteAuthorizerOutput, error) {
	id := aws.ToString(in.AuthorizerId)
	if _, ok := f.authorizers[id]; !ok {
		return nil, notFound()
	}
	delete(f.authorizers, id)
	return &apigatewayv2.DeleteAuthorizerOutput{}, nil
}

func (f *fakeAPIGateway) CreateIntegration(_ context.Context, in *apigatewayv2.CreateIntegrationInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateIntegrationOutput, error) {
	id := f.nextID("int")
	f.integrations[id] = in
	return &apigatewayv2.CreateIntegrationOutput{IntegrationId: aws.String(id)}, nil
}

func (f *fakeAPIGateway) UpdateIntegration(_ context.Context, in *apigatewayv2.UpdateIntegrationInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateIntegrationOutput, error) {
	if _, ok := f.integrations[aws.ToString(in.IntegrationId)]; !ok {
		return nil, notFound()
	}
	return &apigatewayv2.UpdateIntegrationOutput{}, nil
}

func (f *fakeAPIGateway) DeleteIntegration(_ context.Context, in *apigatewayv2.DeleteIntegrationInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.DeleteIntegrationOutput, error) {
	id := aws.ToString(in.IntegrationId)
	if _, ok := f.integrations[id]; !ok {
		return nil, notFound()
	}
	delete(f.integrations, id)
	return &apigatewayv2.DeleteIntegrationOutput{}, nil
}

func (f *fakeAPIGateway) CreateRoute(_ context.Context, in *apigatewayv2.CreateRouteInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateRouteOutput, error) {
	id := f.nextID("route")
	f.routes[id] = &fakeRoute{
		key:          aws.ToString(in.RouteKey),
		target:       aws.ToString(in.Target),
		authType:     in.AuthorizationType,
		authorizerID: aws.ToString(in.AuthorizerId),
	}
	return &apigatewayv2.CreateRouteOutput{RouteId: aws.String(id)}, nil
}

func (f *fakeAPIGateway) UpdateRoute(_ context.Context, in *apigatewayv2.UpdateRouteInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateRouteOutput, error) {
	r, ok := f.routes[aws.ToString(in.RouteId)]
	if !ok {
		return nil, notFound()
	}
	r.target = aws.ToString(in.Target)
	r.authType = in.AuthorizationType
	r.authorizerID = aws.ToString(in.AuthorizerId)
	return &apigatewayv2.UpdateRouteOutput{}, nil
}

func (f *fakeAPIGateway) DeleteRoute(_ context.Context, in *apigatewayv2.DeleteRouteInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.DeleteRouteOutput, error) {
	id := aws.ToString(in.RouteId)
	if _, ok := f.routes[id]; !ok {
		return nil, notFound()
	}
	f.routeDeletes++
	delete(f.routes, id)
	return &apigatewayv2.DeleteRouteOutput{}, nil
}

func (f *fakeAPIGateway) CreateStage(_ context.Context, in *apigatewayv2.CreateStageInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateStageOutput, error) {
	id := aws.ToString(in.ApiId)
	if f.stages[id] {
		return nil, &apitypes.ConflictException{Message: aws.String("stage exists")}
	}
	f.stages[id] = aws.ToBool(in.AutoDeploy)
	return &apigatewayv2.CreateStageOutput{}, nil
}
