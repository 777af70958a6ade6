package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/store/mocks"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/config"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

type DynamoStoreSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	api   *mocks.MockDynamoAPI
	store *DynamoStore
	now   time.Time
	ctx   context.Context
}

func TestDynamoStoreSuite(t *testing.T) {
	suite.Run(t, new(DynamoStoreSuite))
}

func (s *DynamoStoreSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.api = mocks.NewMockDynamoAPI(s.ctrl)
	s.store = NewDynamo(s.api, config.DynamoDBConfig{
		NonceTable:   "nonces",
		SessionTable: "sessions",
		CodeTable:    "codes",
	})
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *DynamoStoreSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *DynamoStoreSuite) TestPutNonceIfAbsent() {
	nonce := models.NonceRecord{Nonce: "jti-1", ExpiresAt: s.now.Add(time.Hour)}

	s.Run("conditional put", func() {
		s.api.EXPECT().PutItem(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				s.Equal("nonces", aws.ToString(in.TableName))
				s.Equal(nonceCondition, aws.ToString(in.ConditionExpression))
				s.Equal(&types.AttributeValueMemberS{Value: "jti-1"}, in.Item["nonce"])
				s.Equal(&types.AttributeValueMemberN{Value: "1772370000"}, in.Item["expires"])
				s.Equal(&types.AttributeValueMemberN{Value: "1772366400"}, in.ExpressionAttributeValues[":now"])
				return &dynamodb.PutItemOutput{}, nil
			})
		s.Require().NoError(s.store.PutNonceIfAbsent(s.ctx, nonce))
	})

	s.Run("condition failure is replay", func() {
		s.api.EXPECT().PutItem(gomock.Any(), gomock.Any()).
			Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")})
		err := s.store.PutNonceIfAbsent(s.ctx, nonce)
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("other failures are not replay", func() {
		s.api.EXPECT().PutItem(gomock.Any(), gomock.Any()).
			Return(nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")})
		err := s.store.PutNonceIfAbsent(s.ctx, nonce)
		s.Require().ErrorIs(err, sentinel.ErrUnavailable)
		s.NotErrorIs(err, sentinel.ErrAlreadyUsed)
	})
}

func (s *DynamoStoreSuite) TestCreateSessionWithNonce() {
	nonce := models.NonceRecord{Nonce: "jti-1", ExpiresAt: s.now.Add(time.Hour)}
	sess := &models.Session{ID: "sess-1", ClientID: "client-a", CreatedAt: s.now, ExpiresAt: s.now.Add(30 * time.Minute)}

	s.Run("one transaction with both puts", func() {
		s.api.EXPECT().TransactWriteItems(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
				s.Require().Len(in.TransactItems, 2)
				s.Equal("nonces", aws.ToString(in.TransactItems[0].Put.TableName))
				s.Equal(nonceCondition, aws.ToString(in.TransactItems[0].Put.ConditionExpression))
				s.Equal("sessions", aws.ToString(in.TransactItems[1].Put.TableName))
				s.Equal(&types.AttributeValueMemberS{Value: "jti-1"}, in.TransactItems[1].Put.Item["nonce"])
				return &dynamodb.TransactWriteItemsOutput{}, nil
			})
		s.Require().NoError(s.store.CreateSessionWithNonce(s.ctx, nonce, sess))
	})

	s.Run("cancelled by condition is replay", func() {
		s.api.EXPECT().TransactWriteItems(gomock.Any(), gomock.Any()).Return(nil, &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("ConditionalCheckFailed")},
				{Code: aws.String("None")},
			},
		})
		err := s.store.CreateSessionWithNonce(s.ctx, nonce, sess)
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("cancelled by a conflicting transaction is not replay", func() {
		s.api.EXPECT().TransactWriteItems(gomock.Any(), gomock.Any()).Return(nil, &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: aws.String("TransactionConflict")}},
		})
		err := s.store.CreateSessionWithNonce(s.ctx, nonce, sess)
		s.Require().Error(err)
		s.NotErrorIs(err, sentinel.ErrAlreadyUsed)
	})
}

func (s *DynamoStoreSuite) TestConsumeCode() {
	s.Run("returns the deleted item", func() {
		payload, err := json.Marshal(models.AuthorizationCode{Code: "authz_1", ClientID: "client-a"})
		s.Require().NoError(err)
		s.api.EXPECT().DeleteItem(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
				s.Equal(types.ReturnValueAllOld, in.ReturnValues)
				return &dynamodb.DeleteItemOutput{Attributes: map[string]types.AttributeValue{
					"code":      &types.AttributeValueMemberS{Value: "authz_1"},
					"client_id": &types.AttributeValueMemberS{Value: "client-a"},
					"payload":   &types.AttributeValueMemberS{Value: string(payload)},
					"expires":   &types.AttributeValueMemberN{Value: "0"},
				}}, nil
			})
		got, err := s.store.ConsumeCode(s.ctx, "authz_1")
		s.Require().NoError(err)
		s.Equal("client-a", got.ClientID)
	})

	s.Run("nothing deleted is not found", func() {
		s.api.EXPECT().DeleteItem(gomock.Any(), gomock.Any()).Return(&dynamodb.DeleteItemOutput{}, nil)
		_, err := s.store.ConsumeCode(s.ctx, "authz_1")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("api failure", func() {
		s.api.EXPECT().DeleteItem(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))
		_, err := s.store.ConsumeCode(s.ctx, "authz_1")
		s.Require().ErrorIs(err, sentinel.ErrUnavailable)
		s.NotErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *DynamoStoreSuite) TestSaveCodeConflict() {
	s.api.EXPECT().PutItem(gomock.Any(), gomock.Any()).
		Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")})
	err := s.store.SaveCode(s.ctx, &models.AuthorizationCode{Code: "authz_1", ExpiresAt: s.now})
	s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
}
