package connection

import "time"

// Patch is the only way to mutate a stored connection. Columns are opted in
// through setters; there is deliberately no setter for credential_id, so a
// disconnect (or any other update) can never touch the stored credential
// reference.
type Patch struct {
	fields map[string]any
}

func NewPatch() *Patch {
	return &Patch{fields: make(map[string]any)}
}

func (p *Patch) SetStatus(s Status) *Patch {
	p.fields["status"] = string(s)
	return p
}

func (p *Patch) SetProviderError(code string) *Patch {
	p.fields["provider_error"] = code
	return p
}

func (p *Patch) ClearProviderError() *Patch {
	p.fields["provider_error"] = nil
	return p
}

func (p *Patch) SetCursor(cursor string) *Patch {
	p.fields["cursor"] = cursor
	return p
}

func (p *Patch) ClearCursor() *Patch {
	p.fields["cursor"] = nil
	return p
}

func (p *Patch) SetLastSyncedAt(t time.Time) *Patch {
	p.fields["last_synced_at"] = t
	return p
}

func (p *Patch) Empty() bool {
	return len(p.fields) == 0
}

// Fields returns a copy of the column/value pairs accumulated so far.
func (p *Patch) Fields() map[string]any {
	out := make(map[string]any, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}
