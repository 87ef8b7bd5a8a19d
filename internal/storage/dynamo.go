package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// DynamoConfig names the four fields whose simultaneous presence
// auto-selects the remote-table backend over FileStorage (spec.md §4.2).
type DynamoConfig struct {
	Region           string
	DefinitionsTable string
	StateTable       string
	Endpoint         string // service endpoint URL (e.g. a local/dev endpoint); required by Configured
}

// Configured reports whether all fields required to select the
// remote-table backend are present.
func (c DynamoConfig) Configured() bool {
	return c.Region != "" && c.DefinitionsTable != "" && c.StateTable != "" && c.Endpoint != ""
}

// dynamoItem is the wire shape of a single row in either DynamoDB table:
// the partition key `id`, plus the entire definition or state document
// JSON-encoded into a single attribute. This keeps the table schema
// agnostic to this kernel's evolving field set (mirrors the two-file
// JSON document's own forward-compatibility story).
type dynamoItem struct {
	ID       string `dynamodbav:"id"`
	Document string `dynamodbav:"document"`
}

// DynamoStorage implements Storage against two DynamoDB tables, one for
// definitions (read-only, scanned in full) and one for state (scanned on
// load, written one PutItem per state on save). It satisfies the same interface as
// FileStorage and is otherwise interchangeable, per spec.md §4.2.
type DynamoStorage struct {
	client           *dynamodb.DynamoDB
	definitionsTable string
	stateTable       string
}

var _ Storage = (*DynamoStorage)(nil)

// NewDynamoStorage builds a DynamoStorage from cfg, establishing an AWS
// session scoped to cfg.Region and directed at cfg.Endpoint (for example
// a local/dev DynamoDB-compatible endpoint such as DynamoDB Local).
func NewDynamoStorage(cfg DynamoConfig) (*DynamoStorage, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(cfg.Region),
		Endpoint: aws.String(cfg.Endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf(`storage: create aws session: %w`, err)
	}
	return &DynamoStorage{
		client:           dynamodb.New(sess),
		definitionsTable: cfg.DefinitionsTable,
		stateTable:       cfg.StateTable,
	}, nil
}

func (d *DynamoStorage) Load(ctx context.Context) ([]taskdef.TaskDefinition, []taskdef.TaskState, error) {
	defs, err := scanDefinitions(ctx, d.client, d.definitionsTable)
	if err != nil {
		return nil, nil, err
	}

	states, err := scanStates(ctx, d.client, d.stateTable)
	if err != nil {
		return nil, nil, err
	}

	return defs, mergeDefaultStates(defs, states), nil
}

func (d *DynamoStorage) Save(ctx context.Context, states []taskdef.TaskState) error {
	for _, s := range states {
		doc, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf(`storage: marshal state %q: %w`, s.ID, err)
		}

		item, err := dynamodbattribute.MarshalMap(dynamoItem{ID: s.ID, Document: string(doc)})
		if err != nil {
			return fmt.Errorf(`storage: marshal dynamo item %q: %w`, s.ID, err)
		}

		if _, err := d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.stateTable),
			Item:      item,
		}); err != nil {
			return fmt.Errorf(`storage: put state %q: %w`, s.ID, err)
		}
	}
	return nil
}

func scanDefinitions(ctx context.Context, client *dynamodb.DynamoDB, table string) ([]taskdef.TaskDefinition, error) {
	docs, err := scanDocuments(ctx, client, table)
	if err != nil {
		return nil, &ConfigError{Path: `dynamodb:` + table, Err: err}
	}

	defs := make([]taskdef.TaskDefinition, 0, len(docs))
	for _, doc := range docs {
		var d taskdef.TaskDefinition
		if err := json.Unmarshal([]byte(doc), &d); err != nil {
			return nil, &ConfigError{Path: `dynamodb:` + table, Err: err}
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func scanStates(ctx context.Context, client *dynamodb.DynamoDB, table string) ([]taskdef.TaskState, error) {
	docs, err := scanDocuments(ctx, client, table)
	if err != nil {
		return nil, &ConfigError{Path: `dynamodb:` + table, Err: err}
	}

	states := make([]taskdef.TaskState, 0, len(docs))
	for _, doc := range docs {
		var s taskdef.TaskState
		if err := json.Unmarshal([]byte(doc), &s); err != nil {
			return nil, &ConfigError{Path: `dynamodb:` + table, Err: err}
		}
		states = append(states, s)
	}
	return states, nil
}

func scanDocuments(ctx context.Context, client *dynamodb.DynamoDB, table string) ([]string, error) {
	var docs []string
	input := &dynamodb.ScanInput{TableName: aws.String(table)}

	for {
		out, err := client.ScanWithContext(ctx, input)
		if err != nil {
			return nil, err
		}

		for _, raw := range out.Items {
			var item dynamoItem
			if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
				return nil, err
			}
			docs = append(docs, item.Document)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	return docs, nil
}
