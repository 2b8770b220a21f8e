// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamoDB is an in-memory stand-in for a single DynamoDB table keyed by
// ChatId. It understands only SET update expressions.
type fakeDynamoDB struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	updates int
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func chatIDOf(key map[string]types.AttributeValue) (string, error) {
	s, ok := key["ChatId"].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("bad key %v", key)
	}
	return s.Value, nil
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := chatIDOf(in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(f.items[id])}, nil
}

func (f *fakeDynamoDB) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, maps.Clone(item))
	}
	return out, nil
}

func (f *fakeDynamoDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++

	id, err := chatIDOf(in.Key)
	if err != nil {
		return nil, err
	}
	expr, ok := strings.CutPrefix(strings.TrimSpace(*in.UpdateExpression), "SET ")
	if !ok {
		return nil, fmt.Errorf("unsupported update expression %q", *in.UpdateExpression)
	}

	item, ok := f.items[id]
	if !ok {
		item = maps.Clone(in.Key)
		f.items[id] = item
	}
	for _, assign := range strings.Split(expr, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(assign), " = ")
		if !ok {
			return nil, fmt.Errorf("bad assignment %q", assign)
		}
		item[in.ExpressionAttributeNames[name]] = in.ExpressionAttributeValues[value]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}
