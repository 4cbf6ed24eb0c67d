package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		want    *DSN
		wantErr bool
	}{
		{
			name: "memory",
			dsn:  "memory://shard-0",
			want: &DSN{Type: TypeMemory, Options: map[string]any{"name": "shard-0"}},
		},
		{
			name: "badger absolute path",
			dsn:  "badger:///var/lib/dittoshard/shard-0",
			want: &DSN{Type: TypeBadger, Options: map[string]any{"db_path": "/var/lib/dittoshard/shard-0"}},
		},
		{
			name: "badger relative path",
			dsn:  "badger://data/shard-1",
			want: &DSN{Type: TypeBadger, Options: map[string]any{"db_path": "data/shard-1"}},
		},
		{
			name: "s3 with options",
			dsn:  "s3://records/shards/0?region=eu-west-1&endpoint=http://localhost:4566&force_path_style=true",
			want: &DSN{Type: TypeS3, Options: map[string]any{
				"bucket":           "records",
				"key_prefix":       "shards/0/",
				"region":           "eu-west-1",
				"endpoint":         "http://localhost:4566",
				"force_path_style": "true",
			}},
		},
		{
			name: "s3 with credentials",
			dsn:  "s3://AKID:SECRET@records?region=us-east-1",
			want: &DSN{Type: TypeS3, Options: map[string]any{
				"bucket":            "records",
				"region":            "us-east-1",
				"access_key_id":     "AKID",
				"secret_access_key": "SECRET",
			}},
		},
		{name: "unknown scheme", dsn: "mysql://db/shard", wantErr: true},
		{name: "memory without name", dsn: "memory://", wantErr: true},
		{name: "s3 without bucket", dsn: "s3:///prefix", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
