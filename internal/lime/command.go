package lime

import "encoding/json"

// CommandMethod is the CRUD-style verb a Command requests.
type CommandMethod string

const (
	CommandMethodGet         CommandMethod = "get"
	CommandMethodSet         CommandMethod = "set"
	CommandMethodDelete      CommandMethod = "delete"
	CommandMethodSubscribe   CommandMethod = "subscribe"
	CommandMethodUnsubscribe CommandMethod = "unsubscribe"
	CommandMethodObserve     CommandMethod = "observe"
	CommandMethodMerge       CommandMethod = "merge"
)

// CommandStatus reports the outcome of a Command, set on responses.
type CommandStatus string

const (
	CommandStatusSuccess CommandStatus = "success"
	CommandStatusFailure CommandStatus = "failure"
	CommandStatusPending CommandStatus = "pending"
)

// Command is a CRUD-style operation against a resource identified by URI.
// Requests carry an ID; responses reuse the request's ID for correlation.
type Command struct {
	Envelope

	URI      string          `json:"uri,omitempty"`
	Method   CommandMethod   `json:"method"`
	Type     string          `json:"type,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Status   CommandStatus   `json:"status,omitempty"`
	Reason   *Reason         `json:"reason,omitempty"`
}

// ResourceDocument decodes the command resource using the registered
// Document type for the command's media type.
func (c Command) ResourceDocument() (Document, error) {
	if len(c.Resource) == 0 {
		return nil, nil
	}
	return DecodeDocument(c.Type, c.Resource)
}

// SetResource encodes doc as the command resource and sets Type from the
// document's media type.
func (c *Command) SetResource(doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	c.Type = doc.MediaType().String()
	c.Resource = raw
	return nil
}

// Success builds a success response to this command carrying resource.
func (c Command) Success(resource Document) (*Command, error) {
	resp := &Command{
		Envelope: Envelope{ID: c.ID, From: c.To, To: c.From},
		Method:   c.Method,
		Status:   CommandStatusSuccess,
	}
	if resource != nil {
		if err := resp.SetResource(resource); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Failure builds a failure response to this command carrying reason.
func (c Command) Failure(reason *Reason) *Command {
	return &Command{
		Envelope: Envelope{ID: c.ID, From: c.To, To: c.From},
		Method:   c.Method,
		Status:   CommandStatusFailure,
		Reason:   reason,
	}
}
