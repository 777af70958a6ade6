package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/config"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

//go:generate mockgen -source=store_dynamodb.go -destination=mocks/mocks.go -package=mocks DynamoAPI

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Items carry an epoch-seconds "expires" attribute, which is the tables' TTL attribute.
type nonceItem struct {
	Nonce   string `dynamodbav:"nonce"`
	Expires int64  `dynamodbav:"expires"`
}

type sessionItem struct {
	ID       string `dynamodbav:"id"`
	ClientID string `dynamodbav:"client_id"`
	Nonce    string `dynamodbav:"nonce"`
	Payload  string `dynamodbav:"payload"`
	Expires  int64  `dynamodbav:"expires"`
}

type codeItem struct {
	Code     string `dynamodbav:"code"`
	ClientID string `dynamodbav:"client_id"`
	Payload  string `dynamodbav:"payload"`
	Expires  int64  `dynamodbav:"expires"`
}

// DynamoDB TTL deletion lags expiry, so the condition also admits rows whose
// expires has passed.
const nonceCondition = "attribute_not_exists(#nonce) OR #expires <= :now"

// DynamoStore uses conditional PutItem and TransactWriteItems.
type DynamoStore struct {
	api    DynamoAPI
	tables config.DynamoDBConfig
}

func NewDynamo(api DynamoAPI, tables config.DynamoDBConfig) *DynamoStore {
	return &DynamoStore{api: api, tables: tables}
}

func (s *DynamoStore) nonceInput(ctx context.Context, nonce models.NonceRecord) (*types.Put, error) {
	item, err := attributevalue.MarshalMap(nonceItem{Nonce: nonce.Nonce, Expires: nonce.ExpiresAt.Unix()})
	if err != nil {
		return nil, fmt.Errorf("marshal nonce: %w", err)
	}
	return &types.Put{
		TableName:                aws.String(s.tables.NonceTable),
		Item:                     item,
		ConditionExpression:      aws.String(nonceCondition),
		ExpressionAttributeNames: map[string]string{"#nonce": "nonce", "#expires": "expires"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprint(requestcontext.Now(ctx).Unix())},
		},
	}, nil
}

func (s *DynamoStore) PutNonceIfAbsent(ctx context.Context, nonce models.NonceRecord) error {
	put, err := s.nonceInput(ctx, nonce)
	if err != nil {
		return err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeNames:  put.ExpressionAttributeNames,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("nonce %s: %w", nonce.Nonce, sentinel.ErrAlreadyUsed)
		}
		return unavailable("put nonce", err)
	}
	return nil
}

// CreateSessionWithNonce submits both puts as one TransactWriteItems call.
func (s *DynamoStore) CreateSessionWithNonce(ctx context.Context, nonce models.NonceRecord, session *models.Session) error {
	noncePut, err := s.nonceInput(ctx, nonce)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	item, err := attributevalue.MarshalMap(sessionItem{
		ID:       session.ID,
		ClientID: session.ClientID,
		Nonce:    nonce.Nonce,
		Payload:  string(payload),
		Expires:  session.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal session item: %w", err)
	}

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: noncePut},
			{Put: &types.Put{
				TableName:                aws.String(s.tables.SessionTable),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#id)"),
				ExpressionAttributeNames: map[string]string{"#id": "id"},
			}},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("nonce %s: %w", nonce.Nonce, sentinel.ErrAlreadyUsed)
		}
		return unavailable("create session with nonce", err)
	}
	return nil
}

// conditionFailed reports whether a transaction was cancelled by a failed
// condition rather than by throttling or a conflict with another transaction.
func conditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func (s *DynamoStore) SaveCode(ctx context.Context, code *models.AuthorizationCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal authorization code: %w", err)
	}
	item, err := attributevalue.MarshalMap(codeItem{
		Code:     code.Code,
		ClientID: code.ClientID,
		Payload:  string(payload),
		Expires:  code.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal authorization code item: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tables.CodeTable),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#code)"),
		ExpressionAttributeNames: map[string]string{"#code": "code"},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("authorization code: %w", sentinel.ErrAlreadyUsed)
		}
		return unavailable("save authorization code", err)
	}
	return nil
}

// ConsumeCode deletes the item and returns what was there, so two concurrent
// redemptions cannot both see it.
func (s *DynamoStore) ConsumeCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	out, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tables.CodeTable),
		Key:          map[string]types.AttributeValue{"code": &types.AttributeValueMemberS{Value: code}},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, unavailable("consume authorization code", err)
	}
	if len(out.Attributes) == 0 {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	var item codeItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshal authorization code item: %w", err)
	}
	var record models.AuthorizationCode
	if err := json.Unmarshal([]byte(item.Payload), &record); err != nil {
		return nil, fmt.Errorf("unmarshal authorization code: %w", err)
	}
	return &record, nil
}

func (s *DynamoStore) Session(ctx context.Context, id string) (*models.Session, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.SessionTable),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get session", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal session item: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(item.Payload), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	if _, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tables.NonceTable)}); err != nil {
		return unavailable("describe nonce table", err)
	}
	return nil
}
