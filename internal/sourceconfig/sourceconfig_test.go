package sourceconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crashsymbol/symbolicator/internal/objectid"
)

func TestFiltersAllowsEverythingWhenPatternsEmpty(t *testing.T) {
	f := Filters{}
	assert.True(t, f.Allows("any/path/module.pdb"))
}

func TestFiltersAllowsMatchesGlobPattern(t *testing.T) {
	f := Filters{PathPatterns: []string{"**/*.pdb"}}
	assert.True(t, f.Allows("ab/cd/module.pdb"))
	assert.False(t, f.Allows("ab/cd/module.dbg"))
}

func TestFiltersAllowsAnyPatternMatches(t *testing.T) {
	f := Filters{PathPatterns: []string{"**/*.pdb", "**/*.dbg"}}
	assert.True(t, f.Allows("x/module.dbg"))
}

func TestS3KeyGroupsByCredentialsRegionAndEndpoint(t *testing.T) {
	a := Source{AccessKey: "k", SecretKey: "s", Region: "us-east-1", Endpoint: ""}
	b := Source{AccessKey: "k", SecretKey: "s", Region: "us-east-1", Endpoint: ""}
	c := Source{AccessKey: "k", SecretKey: "s", Region: "us-east-1", Endpoint: "http://minio:9000"}

	assert.Equal(t, a.S3Key(), b.S3Key())
	assert.NotEqual(t, a.S3Key(), c.S3Key())
}

func TestSentryKeyDistinguishesByToken(t *testing.T) {
	a := Source{SentryURL: "https://sentry.example/index", BearerToken: "tok-1"}
	b := Source{SentryURL: "https://sentry.example/index", BearerToken: "tok-2"}
	assert.NotEqual(t, a.SentryKey(), b.SentryKey())
}

func TestFilesFilterWiresFileTypeSet(t *testing.T) {
	files := Files{Filters: Filters{FileTypes: objectid.NewFileTypeSet(objectid.FileTypePDB)}}
	assert.True(t, files.Filters.FileTypes.Allows(objectid.FileTypePDB))
	assert.False(t, files.Filters.FileTypes.Allows(objectid.FileTypeElfDbg))
}
