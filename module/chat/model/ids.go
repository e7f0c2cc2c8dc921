package model

import (
	"sort"
	"strings"

	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParseID 把外部传入的标识统一成 ObjectID，格式不对一律 InvalidInput。
func ParseID(field, s string) (primitive.ObjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return primitive.NilObjectID, errs.ErrInvalidInput.WrapMsg("missing id", "field", field)
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, errs.ErrInvalidInput.WrapMsg("malformed id", "field", field, "value", s)
	}
	return id, nil
}

// ParseIDs normalizes a batch, keeping input order and dropping duplicates.
func ParseIDs(field string, ss []string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, 0, len(ss))
	seen := make(map[primitive.ObjectID]struct{}, len(ss))
	for _, s := range ss {
		id, err := ParseID(field, s)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Hexes 转回字符串形式
func Hexes(ids []primitive.ObjectID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	return out
}

// SortedPair returns the two ids in ascending order.
func SortedPair(a, b primitive.ObjectID) [2]primitive.ObjectID {
	p := [2]primitive.ObjectID{a, b}
	sort.Slice(p[:], func(i, j int) bool { return p[i].Hex() < p[j].Hex() })
	return p
}

// PairKey 无序参与者对的唯一键：低位:高位
func PairKey(a, b primitive.ObjectID) string {
	p := SortedPair(a, b)
	return p[0].Hex() + ":" + p[1].Hex()
}
