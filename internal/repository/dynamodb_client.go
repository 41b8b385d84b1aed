package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"marketplace-assistant/internal/domain"
)

const (
	pkPrefixChannel = "CHANNEL#"
	pkPrefixProfile = "PROFILE#"
	pkTag           = "TAG"
	pkCategory      = "CATEGORY"
	skMeta          = "META#"
	skPrefixMsg     = "MSG#"

	usedByIndex      = "used-by-index"
	displayNameIndex = "display-name-index"
	serviceTagIndex  = "service-tag-index"

	// maxActiveTags bounds the usage-ordered tag query; the top tags are
	// returned ascending by usage.
	maxActiveTags = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client wraps the marketplace state table and the transcription request
// table. It owns every read and write of persisted entities.
type Client struct {
	api                dynamodbAPI
	tableName          string
	transcriptionTable string
}

// New creates a new repository Client. transcriptionTable may be empty for
// processes that never touch transcription requests.
func New(api dynamodbAPI, tableName, transcriptionTable string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, transcriptionTable: strings.TrimSpace(transcriptionTable)}, nil
}

// channelPK returns the partition key for a channel and its messages.
func channelPK(channelID string) string {
	return pkPrefixChannel + channelID
}

// msgSK returns a message sort key that sorts chronologically.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

// GetChannelMembers returns the member id set of a channel, or an empty slice
// when the channel document does not exist.
func (c *Client) GetChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: channelPK(channelID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetChannelMembers get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return stringSetAttr(out.Item, "member_ids"), nil
}

// ListRecentMessages returns the last limit messages of a channel ascending by
// creation time.
func (c *Client) ListRecentMessages(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: channelPK(channelID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent window.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListRecentMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	// Reverse to chronological order before history assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListActiveCategoryTags returns the text of tags in use (used_by >= 1),
// truncated to the most-used hundred and ordered least-used first.
func (c *Client) ListActiveCategoryTags(ctx context.Context) ([]string, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(usedByIndex),
		KeyConditionExpression: aws.String("entity = :e AND used_by >= :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":   &types.AttributeValueMemberS{Value: pkTag},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(maxActiveTags),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListActiveCategoryTags query: %w", err)
	}

	tags := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		if text, err := strAttr(item, "text"); err == nil && text != "" {
			tags = append(tags, text)
		}
	}
	// The index was read most-used first; flip back to ascending usage.
	for i, j := 0, len(tags)-1; i < j; i, j = i+1, j-1 {
		tags[i], tags[j] = tags[j], tags[i]
	}
	return tags, nil
}

// ListCategories returns the names of all category documents.
func (c *Client) ListCategories(ctx context.Context) ([]string, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkCategory},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListCategories query: %w", err)
	}

	names := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		if name, err := strAttr(item, "name"); err == nil && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// FindProvidersByTag returns the display names of profiles whose service tag
// equals tag exactly. An unknown tag yields an empty slice, not an error.
func (c *Client) FindProvidersByTag(ctx context.Context, tag string) ([]string, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(serviceTagIndex),
		KeyConditionExpression: aws.String("service_tag = :tag"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tag": &types.AttributeValueMemberS{Value: tag},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindProvidersByTag query: %w", err)
	}

	names := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		if name, err := strAttr(item, "display_name"); err == nil && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// FindProfileByName looks up a profile by display name. Geolocation is
// projected to a lat/long pair when both coordinates are stored. Returns
// domain.ErrProfileNotFound when no profile matches.
func (c *Client) FindProfileByName(ctx context.Context, name string) (domain.Profile, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(displayNameIndex),
		KeyConditionExpression: aws.String("display_name = :name"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return domain.Profile{}, fmt.Errorf("repository: FindProfileByName query: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.Profile{}, fmt.Errorf("repository: FindProfileByName %q: %w", name, domain.ErrProfileNotFound)
	}

	item := out.Items[0]
	displayName, err := strAttr(item, "display_name")
	if err != nil {
		return domain.Profile{}, fmt.Errorf("repository: FindProfileByName unmarshal: %w", err)
	}
	profile := domain.Profile{
		DisplayName: displayName,
	}
	if pk, err := strAttr(item, "PK"); err == nil {
		profile.ID = strings.TrimPrefix(pk, pkPrefixProfile)
	}
	if tag, err := strAttr(item, "service_tag"); err == nil {
		profile.ServiceTag = tag
	}
	lat, latOK := numAttr(item, "location_lat")
	long, longOK := numAttr(item, "location_long")
	if latOK && longOK {
		profile.Location = &domain.GeoPoint{Lat: lat, Long: long}
	}
	return profile, nil
}

// AppendAssistantMessage writes a new assistant message document to the
// channel. Timestamps, id and sort key are assigned at write time.
func (c *Client) AppendAssistantMessage(ctx context.Context, msg domain.Message) error {
	if msg.ChannelID == "" {
		return errors.New("repository: AppendAssistantMessage: channel id is required")
	}
	if msg.SenderID == "" {
		return errors.New("repository: AppendAssistantMessage: sender id is required")
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	item := map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: channelPK(msg.ChannelID)},
		"SK":           &types.AttributeValueMemberS{Value: msgSK(now, id)},
		"id":           &types.AttributeValueMemberS{Value: id},
		"created_at":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		"updated_at":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		"type":         &types.AttributeValueMemberS{Value: "text"},
		"channel_type": &types.AttributeValueMemberS{Value: "normal"},
		"sender_title": &types.AttributeValueMemberS{Value: msg.SenderTitle},
		"status":       &types.AttributeValueMemberS{Value: "read"},
		"profile_id":   &types.AttributeValueMemberS{Value: msg.ProfileID},
		"sender_id":    &types.AttributeValueMemberS{Value: msg.SenderID},
		"channel_id":   &types.AttributeValueMemberS{Value: msg.ChannelID},
		"body":         &types.AttributeValueMemberS{Value: msg.Body},
		"draft_id":     &types.AttributeValueMemberNULL{Value: true},
		"media":        &types.AttributeValueMemberNULL{Value: true},
		"geolocation":  &types.AttributeValueMemberNULL{Value: true},
		"reply_to_id":  &types.AttributeValueMemberNULL{Value: true},
		"contact":      &types.AttributeValueMemberNULL{Value: true},
	}
	if len(msg.MemberIDs) > 0 {
		item["channel_member_ids"] = &types.AttributeValueMemberSS{Value: msg.MemberIDs}
		item["member_ids"] = &types.AttributeValueMemberSS{Value: msg.MemberIDs}
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendAssistantMessage: %w", err)
	}
	return nil
}

// SetTranslation writes the translated text back onto a transcription request.
func (c *Client) SetTranslation(ctx context.Context, documentID, text string) error {
	if c.transcriptionTable == "" {
		return errors.New("repository: transcription table not configured")
	}
	if documentID == "" {
		return errors.New("repository: SetTranslation: document id is required")
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.transcriptionTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: documentID},
		},
		UpdateExpression: aws.String("SET translation = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: text},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SetTranslation: %w", err)
	}
	return nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	senderID, err := strAttr(item, "sender_id")
	if err != nil {
		return domain.Message{}, err
	}
	body, err := strAttr(item, "body")
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		SenderID: senderID,
		Body:     body,
	}
	if id, err := strAttr(item, "id"); err == nil {
		msg.ID = id
	}
	if channelID, err := strAttr(item, "channel_id"); err == nil {
		msg.ChannelID = channelID
	}
	if typ, err := strAttr(item, "type"); err == nil {
		msg.Type = typ
	}
	if status, err := strAttr(item, "status"); err == nil {
		msg.Status = status
	}
	if createdAt, err := strAttr(item, "created_at"); err == nil {
		if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			msg.CreatedAt = ts
		}
	}
	return msg, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numAttr(item map[string]types.AttributeValue, key string) (float64, bool) {
	v, ok := item[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func stringSetAttr(item map[string]types.AttributeValue, key string) []string {
	v, ok := item[key]
	if !ok {
		return nil
	}
	switch attr := v.(type) {
	case *types.AttributeValueMemberSS:
		return attr.Value
	case *types.AttributeValueMemberL:
		out := make([]string, 0, len(attr.Value))
		for _, member := range attr.Value {
			if s, ok := member.(*types.AttributeValueMemberS); ok {
				out = append(out, s.Value)
			}
		}
		return out
	default:
		return nil
	}
}
