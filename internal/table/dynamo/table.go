package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/dev-tams/archivekit/internal/archive"
	"github.com/dev-tams/archivekit/internal/config"
)

// ErrMissingKey is returned when a record lacks the key attribute and so
// cannot be addressed for deletion.
var ErrMissingKey = errors.New("record has no key attribute")

// client captures the methods of interest from the DynamoDB API so tests can
// mock it.
type client interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// cursor wraps LastEvaluatedKey so it travels through the job untouched.
type cursor map[string]types.AttributeValue

// Table scans and deletes items of a single DynamoDB table.
type Table struct {
	c            client
	tableName    string
	keyAttr      string
	timestampAtt string
}

type Options struct {
	TableName          string
	KeyAttribute       string
	TimestampAttribute string
}

func New(ctx context.Context, cfg config.TableConfig) (*Table, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newWithClient(c, Options{
		TableName:          cfg.Name,
		KeyAttribute:       cfg.KeyAttribute,
		TimestampAttribute: cfg.TimestampAttribute,
	}), nil
}

func newWithClient(c client, opt Options) *Table {
	return &Table{
		c:            c,
		tableName:    opt.TableName,
		keyAttr:      opt.KeyAttribute,
		timestampAtt: opt.TimestampAttribute,
	}
}

// Scan issues one filtered scan call. The filter runs server side after the
// page is read, so a page may hold no records and still carry a cursor.
func (t *Table) Scan(ctx context.Context, cutoff string, cur archive.Cursor) (archive.Page, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(t.tableName),
		FilterExpression: aws.String("#ts < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#ts": t.timestampAtt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberS{Value: cutoff},
		},
	}
	if start, ok := cur.(cursor); ok && len(start) > 0 {
		in.ExclusiveStartKey = start
	}

	out, err := t.c.Scan(ctx, in)
	if err != nil {
		return archive.Page{}, handleClientError("scan", err)
	}

	var page archive.Page
	if len(out.Items) > 0 {
		if err := attributevalue.UnmarshalListOfMapsWithOptions(out.Items, &page.Records, func(o *attributevalue.DecoderOptions) {
			o.UseNumber = true
		}); err != nil {
			return archive.Page{}, fmt.Errorf("unmarshal scan page: %w", err)
		}
		for _, rec := range page.Records {
			exactNumbers(map[string]any(rec))
		}
	}
	if len(out.LastEvaluatedKey) > 0 {
		page.Next = cursor(out.LastEvaluatedKey)
	}
	return page, nil
}

// Delete removes the item addressed solely by the key attribute.
func (t *Table) Delete(ctx context.Context, rec archive.Record) error {
	id, ok := rec[t.keyAttr]
	if !ok || id == nil {
		return fmt.Errorf("%w %q", ErrMissingKey, t.keyAttr)
	}

	if n, ok := id.(json.Number); ok {
		id = attributevalue.Number(n)
	}
	av, err := attributevalue.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal key %s: %w", t.keyAttr, err)
	}

	_, err = t.c.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.tableName),
		Key: map[string]types.AttributeValue{
			t.keyAttr: av,
		},
	})
	if err != nil {
		return handleClientError("delete", err)
	}
	return nil
}

// exactNumbers swaps the decoder's Number values for json.Number so large
// integer keys survive the JSON archive and the trip back to DeleteItem.
func exactNumbers(v any) any {
	switch x := v.(type) {
	case attributevalue.Number:
		return json.Number(x)
	case []attributevalue.Number:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = json.Number(n)
		}
		return out
	case map[string]any:
		for k, e := range x {
			x[k] = exactNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = exactNumbers(e)
		}
		return x
	default:
		return v
	}
}

func handleClientError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("dynamodb %s failed: %s: %s: %w", op, apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return fmt.Errorf("dynamodb %s failed: %w", op, err)
}
