package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParquetViewSQLEscapesQuotes(t *testing.T) {
	assert.Equal(t,
		`CREATE VIEW bars AS SELECT * FROM read_parquet('/data/o''brien.parquet');`,
		parquetViewSQL(`/data/o'brien.parquet`))

	assert.Equal(t,
		`CREATE VIEW bars AS SELECT * FROM read_parquet('/data/bars.parquet');`,
		parquetViewSQL("/data/bars.parquet"))
}
