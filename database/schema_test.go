package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateCollectionTableRejectsInvalidDimension(t *testing.T) {
	err := CreateCollectionTable(context.Background(), nil, "vc_campus", 0)
	assert.Error(t, err)
}

func TestCreateCollectionTableRejectsEmptyName(t *testing.T) {
	err := CreateCollectionTable(context.Background(), nil, CollectionTable("***"), 768)
	assert.Error(t, err)
}

func TestCollectionTable(t *testing.T) {
	assert.Equal(t, "vc_campus_documents", CollectionTable("campus_documents"))
	assert.Equal(t, "vc_syllabus_2024", CollectionTable("Syllabus-2024"))
	assert.Equal(t, "vc_a_drop_b", CollectionTable("a; DROP b"))
}
