package storage

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestIsGCSPreconditionFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"precondition", &googleapi.Error{Code: http.StatusPreconditionFailed}, true},
		{"wrapped precondition", fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed}), true},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isGCSPreconditionFailed(tt.err))
		})
	}
}

func TestS3ErrorClassification(t *testing.T) {
	precondition := &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	notFound := &smithy.GenericAPIError{Code: "NotFound"}

	assert.True(t, isS3PreconditionFailed(precondition))
	assert.True(t, isS3PreconditionFailed(fmt.Errorf("upload: %w", precondition)))
	assert.False(t, isS3PreconditionFailed(notFound))
	assert.False(t, isS3PreconditionFailed(errors.New("network down")))

	assert.True(t, isS3NotFound(notFound))
	assert.True(t, isS3NotFound(&types.NotFound{}))
	assert.False(t, isS3NotFound(precondition))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "uploads/test/a.txt", objectKey("uploads", "test/a.txt"))
	assert.Equal(t, "uploads/test/a.txt", objectKey("/uploads/", "test/a.txt"))
	assert.Equal(t, "test/a.txt", objectKey("", "test/a.txt"))
}
