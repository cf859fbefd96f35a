package schemas

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		schema  string
		doc     string
		wantErr string
	}{
		{
			name:   "index ok",
			schema: ReleaseIndex,
			doc:    `{"version":"1.2.0","assets":[{"name":"a.zip","url":"http://x/a.zip","size":3}]}`,
		},
		{
			name:    "index missing version",
			schema:  ReleaseIndex,
			doc:     `{"assets":[]}`,
			wantErr: ReleaseIndex,
		},
		{
			name:    "index negative size",
			schema:  ReleaseIndex,
			doc:     `{"version":"1.0","assets":[{"url":"u","size":-1}]}`,
			wantErr: ReleaseIndex,
		},
		{
			name:   "snapshot ok",
			schema: ReleaseSnapshot,
			doc:    `{"schema":1,"version":"2.0.0","state":"ready","assets":[],"prepared":["App"],"replacements":{"/opt/App":"App"}}`,
		},
		{
			name:    "snapshot bad state",
			schema:  ReleaseSnapshot,
			doc:     `{"schema":1,"version":"2.0.0","state":"bogus","assets":[]}`,
			wantErr: ReleaseSnapshot,
		},
		{
			name:    "not json",
			schema:  ReleaseSnapshot,
			doc:     `{`,
			wantErr: "parse document",
		},
		{
			name:    "unknown schema",
			schema:  "nope.json",
			doc:     `{}`,
			wantErr: "unknown schema",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tc.schema, []byte(tc.doc))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error: got %q want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}
