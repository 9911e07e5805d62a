package passkit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// wrapperKeys are the envelope keys a member may be nested under.
var wrapperKeys = []string{"member", "item", "result", "data"}

const maxPayloadDepth = 4

// ParseMemberPayload recovers a member reference from any of the response
// shapes the wallet API produces: a bare member, a member under a wrapper
// key, a list of ids, a list of members, or newline-delimited objects.
func ParseMemberPayload(raw []byte) (MemberRef, bool) {
	for _, v := range decodeValues(raw) {
		if ref, ok := refFromValue(v, 0); ok {
			return ref, true
		}
	}
	return MemberRef{}, false
}

// decodeValues returns the JSON documents in raw: one document, or one per
// line for streamed list responses.
func decodeValues(raw []byte) []any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var single any
	if err := json.Unmarshal(raw, &single); err == nil {
		return []any{single}
	}

	var out []any
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(line, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// refFromValue tries each known shape in order and returns the first hit.
func refFromValue(v any, depth int) (MemberRef, bool) {
	if depth > maxPayloadDepth {
		return MemberRef{}, false
	}
	adapters := []func(any, int) (MemberRef, bool){
		refFromMember,
		refFromWrapper,
		refFromIDList,
		refFromMemberList,
	}
	for _, adapt := range adapters {
		if ref, ok := adapt(v, depth); ok {
			return ref, true
		}
	}
	return MemberRef{}, false
}

func refFromMember(v any, _ int) (MemberRef, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return MemberRef{}, false
	}
	id := stringField(obj, "id")
	if id == "" {
		return MemberRef{}, false
	}

	ref := MemberRef{
		ID:         id,
		Email:      stringField(obj, "emailAddress"),
		ExternalID: stringField(obj, "externalId"),
		Status:     stringField(obj, "status"),
	}
	if person, ok := obj["person"].(map[string]any); ok {
		ref.Person = &Person{
			Forename:     stringField(person, "forename"),
			Surname:      stringField(person, "surname"),
			DisplayName:  stringField(person, "displayName"),
			EmailAddress: stringField(person, "emailAddress"),
			MobileNumber: stringField(person, "mobileNumber"),
		}
		if ref.Email == "" {
			ref.Email = ref.Person.EmailAddress
		}
	}
	if meta, ok := obj["metaData"].(map[string]any); ok {
		ref.MetaData = make(map[string]string, len(meta))
		for k, v := range meta {
			if s, ok := v.(string); ok {
				ref.MetaData[k] = s
			}
		}
	}
	return ref, true
}

func refFromWrapper(v any, depth int) (MemberRef, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return MemberRef{}, false
	}
	for _, key := range wrapperKeys {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		if ref, ok := refFromValue(inner, depth+1); ok {
			return ref, true
		}
	}
	return MemberRef{}, false
}

func refFromIDList(v any, _ int) (MemberRef, bool) {
	list, ok := v.([]any)
	if !ok {
		return MemberRef{}, false
	}
	for _, item := range list {
		if id, ok := item.(string); ok && strings.TrimSpace(id) != "" {
			return MemberRef{ID: strings.TrimSpace(id)}, true
		}
	}
	return MemberRef{}, false
}

func refFromMemberList(v any, depth int) (MemberRef, bool) {
	list, ok := v.([]any)
	if !ok {
		return MemberRef{}, false
	}
	for _, item := range list {
		if _, isObj := item.(map[string]any); !isObj {
			continue
		}
		if ref, ok := refFromValue(item, depth+1); ok {
			return ref, true
		}
	}
	return MemberRef{}, false
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}
