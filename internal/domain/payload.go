package domain

// PayloadVersion is the schema version written for every new snapshot.
// Readers reject versions they do not know instead of guessing at fields.
const PayloadVersion = 1

var supportedPayloadVersions = map[int]bool{
	PayloadVersion: true,
}

// Attribute is a single name/value line printed under the item description
// (e.g. "Color: Red").
type Attribute struct {
	Name  string `json:"name" validate:"required,max=64"`
	Value string `json:"value" validate:"max=256"`
}

// LabelPayload is the read-only snapshot of label data captured at enqueue
// time. Later edits to the order line never reach an already-queued label.
type LabelPayload struct {
	Version         int         `json:"version" validate:"payload_version"`
	OrderID         string      `json:"order_id,omitempty" validate:"max=64"`
	OrderNumber     string      `json:"order_number,omitempty" validate:"max=64"`
	CustomerName    string      `json:"customer_name" validate:"required,max=200"`
	ItemDescription string      `json:"item_description" validate:"required,max=500"`
	Quantity        int         `json:"quantity,omitempty" validate:"omitempty,gte=1,lte=100000"`
	Attributes      []Attribute `json:"attributes,omitempty" validate:"max=32,dive"`
}

// Clone returns a copy that shares no slices with p.
func (p LabelPayload) Clone() LabelPayload {
	c := p
	if p.Attributes != nil {
		c.Attributes = make([]Attribute, len(p.Attributes))
		copy(c.Attributes, p.Attributes)
	}
	return c
}

// Validate checks that the snapshot carries everything a label needs.
func (p LabelPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return validationError(err, "invalid label payload")
	}
	return nil
}
