package migrations

import "embed"

// FS holds one migration directory per dialect: postgres, mysql, sqllite3.
//
//go:embed postgres mysql sqllite3
var FS embed.FS
