package redteam

import "testing"

func TestSQLInjection(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{
			name:    "concatenated query",
			content: "models.sequelize.query('SELECT * FROM Products WHERE name LIKE ' + criteria)",
			want:    true,
		},
		{
			name:    "template literal query",
			content: "db.query(`SELECT * FROM Users WHERE id = ${id}`)",
			want:    true,
		},
		{
			name:    "vulnerable LIKE literal",
			content: "SELECT * FROM Products WHERE name LIKE '%injection%'",
			want:    true,
		},
		{
			name:    "parameterized query",
			content: "models.sequelize.query('SELECT * FROM Products WHERE name LIKE :criteria', { replacements: { criteria } })",
			want:    false,
		},
		{
			name:    "no query at all",
			content: "export const hash = (data) => crypto.createHash('sha256')",
			want:    false,
		},
		{
			name:    "empty file",
			content: "",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SQLInjection(tt.content); got != tt.want {
				t.Errorf("SQLInjection() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeakHash(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"lowercase", "crypto.createHash('md5')", true},
		{"uppercase", "ALGORITHM = 'MD5'", true},
		{"mixed case", "useMd5Hash(data)", true},
		{"sha256 only", "crypto.createHash('sha256').update(data).digest('hex')", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeakHash(tt.content); got != tt.want {
				t.Errorf("WeakHash() = %v, want %v", got, tt.want)
			}
		})
	}
}
