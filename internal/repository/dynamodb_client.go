package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"vocab-agent/internal/domain"
)

const (
	pkPrefixChat  = "CHAT#"
	pkPrefixUser  = "USER#"
	skPrefixMsg   = "MSG#"
	skPrefixChat  = "CHAT#"
	skPrefixVocab = "VOCAB#"

	// Fixed-width so sort keys order lexicographically.
	sortableTime = "2006-01-02T15:04:05.000000000Z"

	batchWriteLimit   = 25
	maxBatchAttempts  = 5
	defaultChatName   = "聊天"
	notExistCondition = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
	existCondition    = "attribute_exists(PK) AND attribute_exists(SK)"
)

var (
	ErrNotFound      = errors.New("repository: not found")
	ErrDuplicateWord = errors.New("repository: word already saved")
)

// dynamodbAPI is the subset of *dynamodb.Client used by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store is the chat, session and notebook persistence used by the services.
// Client and MemoryStore both implement it.
type Store interface {
	GetMessages(ctx context.Context, chatID string) ([]domain.StoredMessage, error)
	AppendMessage(ctx context.Context, chatID string, role domain.Role, content string) error
	SaveTurn(ctx context.Context, userID, chatID, question, answer string) error

	CreateChat(ctx context.Context, session domain.ChatSession, welcome string) error
	ListChats(ctx context.Context, userID string) ([]domain.ChatSession, error)
	RenameChat(ctx context.Context, userID, chatID, name string) error
	DeleteChat(ctx context.Context, userID, chatID string) error

	SaveWord(ctx context.Context, entry domain.VocabularyEntry) error
	ListWords(ctx context.Context, userID string) ([]domain.VocabularyEntry, error)
	DeleteWord(ctx context.Context, userID, word string) error
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Client stores everything in a single DynamoDB table keyed by PK/SK.
//
//	CHAT#<chatId> / MSG#<time>#<id>    chat message
//	USER#<userId> / CHAT#<chatId>      chat session
//	USER#<userId> / VOCAB#<word>       notebook entry
type Client struct {
	api             dynamodbAPI
	tableName       string
	historyTTL      time.Duration
	defaultChatName string
	now             func() time.Time
	newID           func() string
}

type Option func(*Client)

// WithHistoryTTL expires chat messages after d. Zero keeps them forever.
func WithHistoryTTL(d time.Duration) Option {
	return func(c *Client) { c.historyTTL = d }
}

// WithDefaultChatName names sessions created implicitly by SaveTurn.
func WithDefaultChatName(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.defaultChatName = name
		}
	}
}

func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:             api,
		tableName:       tableName,
		defaultChatName: defaultChatName,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func chatPK(chatID string) string {
	return pkPrefixChat + chatID
}

func userPK(userID string) string {
	return pkPrefixUser + userID
}

func sessionSK(chatID string) string {
	return skPrefixChat + chatID
}

func vocabSK(word string) string {
	return skPrefixVocab + strings.ToLower(strings.TrimSpace(word))
}

func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(sortableTime) + "#" + id
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// GetMessages returns every message of a chat, oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]domain.StoredMessage, error) {
	items, err := c.queryAll(ctx, chatPK(chatID), skPrefixMsg, true)
	if err != nil {
		return nil, fmt.Errorf("repository: GetMessages: %w", err)
	}
	msgs := make([]domain.StoredMessage, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(chatID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// AppendMessage persists a single message at the tail of a chat.
func (c *Client) AppendMessage(ctx context.Context, chatID string, role domain.Role, content string) error {
	if err := validateRole(role); err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.messageItem(chatID, role, content, c.now()),
		ConditionExpression: aws.String(notExistCondition),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// SaveTurn writes the user question, the answer, and the session's last
// activity in one transaction. The session is created when missing.
func (c *Client) SaveTurn(ctx context.Context, userID, chatID, question, answer string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("repository: SaveTurn: chat id is required")
	}
	now := c.now()
	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                c.messageItem(chatID, domain.RoleUser, question, now),
			ConditionExpression: aws.String(notExistCondition),
		}},
		{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                c.messageItem(chatID, domain.RoleAssistant, answer, now.Add(time.Microsecond)),
			ConditionExpression: aws.String(notExistCondition),
		}},
	}
	if userID != "" {
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
				"SK": &types.AttributeValueMemberS{Value: sessionSK(chatID)},
			},
			UpdateExpression: aws.String("SET lastActivity = :now, chatId = :chat, " +
				"#name = if_not_exists(#name, :name), createdAt = if_not_exists(createdAt, :now)"),
			ExpressionAttributeNames: map[string]string{"#name": "name"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now":  &types.AttributeValueMemberS{Value: formatTime(now)},
				":chat": &types.AttributeValueMemberS{Value: chatID},
				":name": &types.AttributeValueMemberS{Value: c.defaultChatName},
			},
		}})
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// CreateChat stores a new session and, when welcome is non-empty, its
// welcome text as a system message.
func (c *Client) CreateChat(ctx context.Context, session domain.ChatSession, welcome string) error {
	if session.UserID == "" || session.ChatID == "" {
		return errors.New("repository: CreateChat: user id and chat id are required")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = c.now()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	if strings.TrimSpace(session.Name) == "" {
		session.Name = c.defaultChatName
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                sessionItem(session),
			ConditionExpression: aws.String(notExistCondition),
		}},
	}
	if welcome != "" {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(c.tableName),
			Item:      c.messageItem(session.ChatID, domain.RoleSystem, welcome, session.CreatedAt),
		}})
	}
	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: CreateChat: %w", err)
	}
	return nil
}

// ListChats returns a user's sessions, most recently active first.
func (c *Client) ListChats(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	items, err := c.queryAll(ctx, userPK(userID), skPrefixChat, true)
	if err != nil {
		return nil, fmt.Errorf("repository: ListChats: %w", err)
	}
	sessions := make([]domain.ChatSession, 0, len(items))
	for _, item := range items {
		s, err := itemToSession(userID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListChats unmarshal: %w", err)
		}
		sessions = append(sessions, s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// RenameChat changes a session name. Missing sessions yield ErrNotFound.
func (c *Client) RenameChat(ctx context.Context, userID, chatID, name string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: sessionSK(chatID)},
		},
		UpdateExpression:         aws.String("SET #name = :name"),
		ConditionExpression:      aws.String(existCondition),
		ExpressionAttributeNames: map[string]string{"#name": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: RenameChat: %w", err)
	}
	return nil
}

// DeleteChat removes a session and every message of the chat.
func (c *Client) DeleteChat(ctx context.Context, userID, chatID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: sessionSK(chatID)},
		},
		ConditionExpression: aws.String(existCondition),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: DeleteChat: %w", err)
	}

	items, err := c.queryAll(ctx, chatPK(chatID), skPrefixMsg, true)
	if err != nil {
		return fmt.Errorf("repository: DeleteChat list messages: %w", err)
	}
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	if err := c.batchDelete(ctx, keys); err != nil {
		return fmt.Errorf("repository: DeleteChat: %w", err)
	}
	return nil
}

// SaveWord adds a notebook entry. Words are unique per user, case-insensitively.
func (c *Client) SaveWord(ctx context.Context, entry domain.VocabularyEntry) error {
	if entry.UserID == "" || strings.TrimSpace(entry.Word) == "" {
		return errors.New("repository: SaveWord: user id and word are required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                vocabItem(entry),
		ConditionExpression: aws.String(notExistCondition),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicateWord
		}
		return fmt.Errorf("repository: SaveWord: %w", err)
	}
	return nil
}

// ListWords returns a user's notebook ordered by word.
func (c *Client) ListWords(ctx context.Context, userID string) ([]domain.VocabularyEntry, error) {
	items, err := c.queryAll(ctx, userPK(userID), skPrefixVocab, true)
	if err != nil {
		return nil, fmt.Errorf("repository: ListWords: %w", err)
	}
	entries := make([]domain.VocabularyEntry, 0, len(items))
	for _, item := range items {
		e, err := itemToVocab(userID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListWords unmarshal: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DeleteWord removes a notebook entry. Missing entries yield ErrNotFound.
func (c *Client) DeleteWord(ctx context.Context, userID, word string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: vocabSK(word)},
		},
		ConditionExpression: aws.String(existCondition),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: DeleteWord: %w", err)
	}
	return nil
}

// queryAll follows LastEvaluatedKey until the partition prefix is exhausted.
func (c *Client) queryAll(ctx context.Context, pk, skPrefix string, forward bool) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: skPrefix},
			},
			ScanIndexForward:  aws.Bool(forward),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

// batchDelete deletes keys in chunks, resubmitting unprocessed items.
func (c *Client) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		pending := map[string][]types.WriteRequest{c.tableName: reqs}
		for attempt := 0; len(pending[c.tableName]) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return fmt.Errorf("batch delete: %d items unprocessed", len(pending[c.tableName]))
			}
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (c *Client) messageItem(chatID string, role domain.Role, content string, ts time.Time) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: chatPK(chatID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(ts, c.newID())},
		"chatId":    &types.AttributeValueMemberS{Value: chatID},
		"role":      &types.AttributeValueMemberS{Value: string(role)},
		"content":   &types.AttributeValueMemberS{Value: content},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(ts)},
	}
	if c.historyTTL > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ts.Add(c.historyTTL).Unix(), 10)}
	}
	return item
}

func sessionItem(s domain.ChatSession) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: userPK(s.UserID)},
		"SK":           &types.AttributeValueMemberS{Value: sessionSK(s.ChatID)},
		"chatId":       &types.AttributeValueMemberS{Value: s.ChatID},
		"name":         &types.AttributeValueMemberS{Value: s.Name},
		"createdAt":    &types.AttributeValueMemberS{Value: formatTime(s.CreatedAt)},
		"lastActivity": &types.AttributeValueMemberS{Value: formatTime(s.LastActivity)},
	}
}

func vocabItem(e domain.VocabularyEntry) map[string]types.AttributeValue {
	examples := make([]types.AttributeValue, 0, len(e.Examples))
	for _, ex := range e.Examples {
		examples = append(examples, &types.AttributeValueMemberS{Value: ex})
	}
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: userPK(e.UserID)},
		"SK":         &types.AttributeValueMemberS{Value: vocabSK(e.Word)},
		"word":       &types.AttributeValueMemberS{Value: strings.TrimSpace(e.Word)},
		"definition": &types.AttributeValueMemberS{Value: e.Definition},
		"examples":   &types.AttributeValueMemberL{Value: examples},
		"notes":      &types.AttributeValueMemberS{Value: e.Notes},
		"createdAt":  &types.AttributeValueMemberS{Value: formatTime(e.CreatedAt)},
	}
}

func itemToMessage(chatID string, item map[string]types.AttributeValue) (domain.StoredMessage, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.StoredMessage{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.StoredMessage{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.StoredMessage{}, err
	}
	return domain.StoredMessage{
		ChatID:    chatID,
		Role:      domain.Role(role),
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}

func itemToSession(userID string, item map[string]types.AttributeValue) (domain.ChatSession, error) {
	chatID, err := strAttr(item, "chatId")
	if err != nil {
		return domain.ChatSession{}, err
	}
	name, _ := strAttr(item, "name")
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ChatSession{}, err
	}
	last, err := timeAttr(item, "lastActivity")
	if err != nil {
		return domain.ChatSession{}, err
	}
	return domain.ChatSession{
		UserID:       userID,
		ChatID:       chatID,
		Name:         name,
		CreatedAt:    createdAt,
		LastActivity: last,
	}, nil
}

func itemToVocab(userID string, item map[string]types.AttributeValue) (domain.VocabularyEntry, error) {
	word, err := strAttr(item, "word")
	if err != nil {
		return domain.VocabularyEntry{}, err
	}
	definition, _ := strAttr(item, "definition")
	notes, _ := strAttr(item, "notes")
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.VocabularyEntry{}, err
	}
	var examples []string
	if l, ok := item["examples"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				examples = append(examples, s.Value)
			}
		}
	}
	return domain.VocabularyEntry{
		UserID:     userID,
		Word:       word,
		Definition: definition,
		Examples:   examples,
		Notes:      notes,
		CreatedAt:  createdAt,
	}, nil
}

func validateRole(role domain.Role) error {
	switch role {
	case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
		return nil
	default:
		return fmt.Errorf("unsupported role %q", role)
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
