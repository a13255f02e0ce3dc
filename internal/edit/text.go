package edit

import "encoding/json"

// Text is an optional string. The zero value is absent, which is distinct
// from present and empty.
type Text struct {
	Value string
	Valid bool
}

func Some(value string) Text {
	return Text{Value: value, Valid: true}
}

func TextFrom(value *string) Text {
	if value == nil {
		return Text{}
	}
	return Some(*value)
}

func (t Text) Ptr() *string {
	if !t.Valid {
		return nil
	}
	value := t.Value
	return &value
}

// Equal treats two absent values as equal and an absent value as different
// from any present one.
func (t Text) Equal(other Text) bool {
	if !t.Valid || !other.Valid {
		return t.Valid == other.Valid
	}
	return t.Value == other.Value
}

func (t Text) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Value)
}

func (t *Text) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Text{}
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*t = Some(value)
	return nil
}
