package multiagent

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBTrustStore persists agent profiles to a DynamoDB table keyed by
// agent_id, so trust scores and violation counters survive restarts. It
// satisfies TrustStore; the ledger writes through on every change.
type DynamoDBTrustStore struct {
	client *dynamodb.Client
	table  string
}

type ddbProfile struct {
	AgentID          string   `dynamodbav:"agent_id"`
	TrustLevel       string   `dynamodbav:"trust_level"`
	TrustScore       float64  `dynamodbav:"trust_score"`
	CanDelegateTo    []string `dynamodbav:"can_delegate_to,omitempty"`
	MaxActionsPerRun int      `dynamodbav:"max_actions_per_run"`
	ActionCount      int      `dynamodbav:"action_count"`
	ErrorCount       int      `dynamodbav:"error_count"`
	ViolationCount   int      `dynamodbav:"violation_count"`
	UpdatedAt        string   `dynamodbav:"updated_at"`
}

// NewDynamoDBTrustStore creates a trust store backed by the given table.
func NewDynamoDBTrustStore(client *dynamodb.Client, table string) *DynamoDBTrustStore {
	return &DynamoDBTrustStore{client: client, table: table}
}

func (s *DynamoDBTrustStore) PutProfile(profile AgentProfile) error {
	item, err := attributevalue.MarshalMap(ddbProfile{
		AgentID:          profile.AgentID,
		TrustLevel:       string(profile.TrustLevel),
		TrustScore:       profile.TrustScore,
		CanDelegateTo:    profile.CanDelegateTo,
		MaxActionsPerRun: profile.MaxActionsPerRun,
		ActionCount:      profile.ActionCount,
		ErrorCount:       profile.ErrorCount,
		ViolationCount:   profile.ViolationCount,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal agent profile: %w", err)
	}

	_, err = s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put agent profile: %w", err)
	}
	return nil
}

func (s *DynamoDBTrustStore) GetProfile(agentID string) (AgentProfile, bool, error) {
	result, err := s.client.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"agent_id": &ddbtypes.AttributeValueMemberS{Value: agentID},
		},
	})
	if err != nil {
		return AgentProfile{}, false, fmt.Errorf("failed to get agent profile: %w", err)
	}
	if result.Item == nil {
		return AgentProfile{}, false, nil
	}

	var row ddbProfile
	if err := attributevalue.UnmarshalMap(result.Item, &row); err != nil {
		return AgentProfile{}, false, fmt.Errorf("failed to unmarshal agent profile: %w", err)
	}

	return AgentProfile{
		AgentID:          row.AgentID,
		TrustLevel:       trustLevelFromString(row.TrustLevel),
		TrustScore:       row.TrustScore,
		CanDelegateTo:    row.CanDelegateTo,
		MaxActionsPerRun: row.MaxActionsPerRun,
		ActionCount:      row.ActionCount,
		ErrorCount:       row.ErrorCount,
		ViolationCount:   row.ViolationCount,
	}, true, nil
}

func (s *DynamoDBTrustStore) DeleteAll() error {
	ctx := context.Background()
	var startKey map[string]ddbtypes.AttributeValue

	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String("agent_id"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("failed to scan trust table: %w", err)
		}

		for _, item := range out.Items {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.table),
				Key:       map[string]ddbtypes.AttributeValue{"agent_id": item["agent_id"]},
			})
			if err != nil {
				return fmt.Errorf("failed to delete agent profile: %w", err)
			}
		}

		if out.LastEvaluatedKey == nil {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}
