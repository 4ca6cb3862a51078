package dynamo

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mapchat/syncd/internal/storage"
)

// Reserved attributes. Document fields are stored next to them as native attributes
// so filters run server-side.
const (
	attrPartition = "_pk"
	attrSort      = "_sk"
	attrVersion   = "_version"
	attrUpdatedAt = "_updatedAt"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func keyOf(key storage.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: key.Collection},
		attrSort:      &types.AttributeValueMemberS{Value: key.ID},
	}
}

// toItem converts a JSON body into an item carrying the key and metadata attributes.
func toItem(key storage.Key, data json.RawMessage, version int64, updatedAt time.Time) (map[string]types.AttributeValue, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: body of %s is not an object: %v", storage.ErrDecode, key, err)
	}
	for name := range fields {
		if strings.HasPrefix(name, "_") {
			return nil, fmt.Errorf("field %q of %s uses the reserved prefix", name, key)
		}
	}

	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	for k, v := range keyOf(key) {
		item[k] = v
	}
	item[attrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)}
	item[attrUpdatedAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(updatedAt.UnixNano(), 10)}
	return item, nil
}

// fromItem strips the reserved attributes and re-encodes the fields as JSON.
func fromItem(item map[string]types.AttributeValue) (*storage.Document, error) {
	var doc storage.Document
	fields := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		switch k {
		case attrPartition:
			doc.Key.Collection = stringValue(v)
		case attrSort:
			doc.Key.ID = stringValue(v)
		case attrVersion:
			doc.Version, _ = strconv.ParseInt(numberValue(v), 10, 64)
		case attrUpdatedAt:
			nanos, _ := strconv.ParseInt(numberValue(v), 10, 64)
			doc.UpdatedAt = time.Unix(0, nanos).UTC()
		default:
			fields[k] = v
		}
	}

	var body map[string]any
	if err := attributevalue.UnmarshalMap(fields, &body); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrDecode, doc.Key, err)
	}
	if body == nil {
		body = map[string]any{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrDecode, doc.Key, err)
	}
	doc.Data = data
	return &doc, nil
}

func stringValue(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numberValue(v types.AttributeValue) string {
	if n, ok := v.(*types.AttributeValueMemberN); ok {
		return n.Value
	}
	return "0"
}

// expression accumulates placeholder names and values for one request.
type expression struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func newExpression() *expression {
	return &expression{names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

func (e *expression) name(attr string) string {
	p := fmt.Sprintf("#n%d", len(e.names))
	e.names[p] = attr
	return p
}

func (e *expression) path(field string) (string, error) {
	segments := strings.Split(field, ".")
	out := make([]string, len(segments))
	for i, seg := range segments {
		if !segmentPattern.MatchString(seg) {
			return "", fmt.Errorf("invalid filter field %q", field)
		}
		out[i] = e.name(seg)
	}
	return strings.Join(out, "."), nil
}

func (e *expression) value(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal expression value: %w", err)
	}
	p := fmt.Sprintf(":v%d", len(e.values))
	e.values[p] = av
	return p, nil
}

// filter renders one storage filter as a FilterExpression term.
func (e *expression) filter(f storage.Filter) (string, error) {
	path, err := e.path(f.Field)
	if err != nil {
		return "", err
	}
	value, err := storage.NormalizeValue(f.Value)
	if err != nil {
		return "", err
	}

	switch f.Op {
	case storage.OpEqual:
		if value == nil {
			e.values[":null"] = &types.AttributeValueMemberS{Value: "NULL"}
			return fmt.Sprintf("(attribute_not_exists(%s) OR attribute_type(%s, :null))", path, path), nil
		}
		v, err := e.value(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", path, v), nil
	case storage.OpArrayContains:
		v, err := e.value(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("contains(%s, %s)", path, v), nil
	default:
		return "", fmt.Errorf("unsupported filter operator %d", f.Op)
	}
}

// precondition renders the version guard for a write.
func (e *expression) precondition(stored int64) (string, error) {
	if stored == 0 {
		return fmt.Sprintf("attribute_not_exists(%s)", e.name(attrPartition)), nil
	}
	v, err := e.value(stored)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", e.name(attrVersion), v), nil
}

func (e *expression) namesOrNil() map[string]string {
	if len(e.names) == 0 {
		return nil
	}
	return e.names
}

func (e *expression) valuesOrNil() map[string]types.AttributeValue {
	if len(e.values) == 0 {
		return nil
	}
	return e.values
}
