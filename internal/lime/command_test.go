package lime

import "testing"

func TestCommandSetResourceAndResourceDocument(t *testing.T) {
	var c Command
	if err := c.SetResource(&Ping{}); err != nil {
		t.Fatalf("SetResource: %v", err)
	}
	if c.Type != "application/vnd.lime.ping+json" {
		t.Errorf("Type = %q", c.Type)
	}

	doc, err := c.ResourceDocument()
	if err != nil {
		t.Fatalf("ResourceDocument: %v", err)
	}
	if _, ok := doc.(*Ping); !ok {
		t.Fatalf("type = %T, want *Ping", doc)
	}
}

func TestCommandResourceDocument_EmptyResource(t *testing.T) {
	c := Command{}
	doc, err := c.ResourceDocument()
	if err != nil {
		t.Fatalf("ResourceDocument: %v", err)
	}
	if doc != nil {
		t.Errorf("ResourceDocument() = %v, want nil", doc)
	}
}

func TestCommandSuccess_SwapsFromAndTo(t *testing.T) {
	from := Node{Identity: Identity{Name: "alice", Domain: "example.com"}}
	to := Node{Identity: Identity{Name: "server", Domain: "example.com"}}
	req := Command{
		Envelope: Envelope{ID: "req-1", From: from, To: to},
		Method:   CommandMethodGet,
		URI:      "/ping",
	}

	resp, err := req.Success(&Ping{})
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	if resp.ID != "req-1" {
		t.Errorf("ID = %q, want %q", resp.ID, "req-1")
	}
	if resp.From != to || resp.To != from {
		t.Errorf("From/To = %v/%v, want swapped %v/%v", resp.From, resp.To, to, from)
	}
	if resp.Status != CommandStatusSuccess {
		t.Errorf("Status = %v, want success", resp.Status)
	}
}

func TestCommandFailure(t *testing.T) {
	req := Command{Envelope: Envelope{ID: "req-2"}, Method: CommandMethodSet}
	reason := NewReason(ReasonCodeValidationError, "bad request")

	resp := req.Failure(reason)
	if resp.Status != CommandStatusFailure {
		t.Errorf("Status = %v, want failure", resp.Status)
	}
	if resp.Reason != reason {
		t.Errorf("Reason = %v, want %v", resp.Reason, reason)
	}
	if resp.ID != "req-2" {
		t.Errorf("ID = %q", resp.ID)
	}
}
