// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Attribute names of the preference table items.
const (
	chatIDAttr       = "ChatId"
	chatNameAttr     = "ChatName"
	subscribedPrefix = "IsSubscribedTo"
)

// DynamoDBAPI is the subset of the DynamoDB client used by [DynamoDBStore].
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBStore is an implementation of the [Store] interface backed by a DynamoDB
// table keyed by the ChatId string attribute.
//
// Every topic flag is kept in its own boolean attribute, named
// IsSubscribedTo<Topic>, for example IsSubscribedToStoic.
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoDBStore returns a [DynamoDBStore] using the given table.
func NewDynamoDBStore(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table}
}

type dynamoItem struct {
	ChatID   string `dynamodbav:"ChatId"`
	ChatName string `dynamodbav:"ChatName"`
}

func topicAttr(topic string) string {
	return subscribedPrefix + cases.Title(language.Und).String(topic)
}

func fromItem(item map[string]types.AttributeValue) (*Subscriber, error) {
	var di dynamoItem
	if err := attributevalue.UnmarshalMap(item, &di); err != nil {
		return nil, err
	}
	sub := &Subscriber{ChatID: di.ChatID, Name: di.ChatName}
	for name, av := range item {
		topic, ok := strings.CutPrefix(name, subscribedPrefix)
		if !ok || topic == "" {
			continue
		}
		b, ok := av.(*types.AttributeValueMemberBOOL)
		if !ok {
			continue
		}
		if sub.Topics == nil {
			sub.Topics = make(map[string]bool)
		}
		sub.Topics[strings.ToLower(topic)] = b.Value
	}
	return sub, nil
}

func (s *DynamoDBStore) key(chatID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		chatIDAttr: &types.AttributeValueMemberS{Value: chatID},
	}
}

// Get retrieves a subscriber by chat ID.
func (s *DynamoDBStore) Get(ctx context.Context, chatID string) (*Subscriber, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(chatID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return fromItem(out.Item)
}

// Scan reads the whole table.
func (s *DynamoDBStore) Scan(ctx context.Context) ([]*Subscriber, error) {
	var subs []*Subscriber
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			sub, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Update sets the changed attributes with a single UpdateItem call.
func (s *DynamoDBStore) Update(ctx context.Context, chatID string, u Update) error {
	if u.Name == nil && len(u.Topics) == 0 {
		return nil
	}

	var upd expression.UpdateBuilder
	if u.Name != nil {
		upd = upd.Set(expression.Name(chatNameAttr), expression.Value(*u.Name))
	}
	for topic, on := range u.Topics {
		upd = upd.Set(expression.Name(topicAttr(topic)), expression.Value(on))
	}
	expr, err := expression.NewBuilder().WithUpdate(upd).Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(chatID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

// Close is a no-op for DynamoDB.
func (s *DynamoDBStore) Close() error { return nil }
