package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTemplates_Fields(t *testing.T) {
	variables := map[string]string{"ARCHIVE_NAME": "bundle", "TOKEN": "secret"}

	type inner struct {
		Path string `template:""`
	}
	type fields struct {
		Tagged     string `template:""`
		Untagged   string
		Skipped    string  `template:"-"`
		Ptr        *string `template:""`
		NilPtr     *string `template:""`
		Headers    map[string]string
		Counts     map[string]int
		Tags       []string `template:""`
		RawTags    []string
		Nested     inner
		NestedPtr  *inner
		NilNested  *inner
		Items      []inner
		ItemPtrs   []*inner
		unexported string `template:""`
	}

	ptr := "${ARCHIVE_NAME}.zip"
	in := fields{
		Tagged:     "${ARCHIVE_NAME}/data",
		Untagged:   "${ARCHIVE_NAME}",
		Skipped:    "${ARCHIVE_NAME}",
		Ptr:        &ptr,
		Headers:    map[string]string{"Authorization": "Bearer ${TOKEN}"},
		Counts:     map[string]int{"k": 1},
		Tags:       []string{"${ARCHIVE_NAME}", "static"},
		RawTags:    []string{"${ARCHIVE_NAME}"},
		Nested:     inner{Path: "${ARCHIVE_NAME}/nested"},
		NestedPtr:  &inner{Path: "${ARCHIVE_NAME}/ptr"},
		Items:      []inner{{Path: "${ARCHIVE_NAME}/0"}, {Path: "${ARCHIVE_NAME}/1"}},
		ItemPtrs:   []*inner{{Path: "${ARCHIVE_NAME}/p"}, nil},
		unexported: "${ARCHIVE_NAME}",
	}

	require.NoError(t, ExpandTemplates(&in, variables))

	assert.Equal(t, "bundle/data", in.Tagged)
	assert.Equal(t, "${ARCHIVE_NAME}", in.Untagged)
	assert.Equal(t, "${ARCHIVE_NAME}", in.Skipped)
	require.NotNil(t, in.Ptr)
	assert.Equal(t, "bundle.zip", *in.Ptr)
	assert.Equal(t, "${ARCHIVE_NAME}.zip", ptr, "original string is not modified")
	assert.Nil(t, in.NilPtr)
	assert.Equal(t, map[string]string{"Authorization": "Bearer secret"}, in.Headers)
	assert.Equal(t, map[string]int{"k": 1}, in.Counts)
	assert.Equal(t, []string{"bundle", "static"}, in.Tags)
	assert.Equal(t, []string{"${ARCHIVE_NAME}"}, in.RawTags)
	assert.Equal(t, "bundle/nested", in.Nested.Path)
	assert.Equal(t, "bundle/ptr", in.NestedPtr.Path)
	assert.Nil(t, in.NilNested)
	assert.Equal(t, []inner{{Path: "bundle/0"}, {Path: "bundle/1"}}, in.Items)
	assert.Equal(t, "bundle/p", in.ItemPtrs[0].Path)
	assert.Nil(t, in.ItemPtrs[1])
	assert.Equal(t, "${ARCHIVE_NAME}", in.unexported)
}

func TestExpandTemplates_TopLevel(t *testing.T) {
	type item struct {
		Path string `template:""`
	}

	t.Run("nil", func(t *testing.T) {
		var in *item
		require.NoError(t, ExpandTemplates(in, nil))
	})

	t.Run("slice of structs", func(t *testing.T) {
		in := []item{{Path: "${A}"}}
		require.NoError(t, ExpandTemplates(&in, map[string]string{"A": "x"}))
		assert.Equal(t, "x", in[0].Path)
	})

	t.Run("unsupported kind", func(t *testing.T) {
		in := 42
		require.ErrorContains(t, ExpandTemplates(&in, nil), "expects *struct or *[]struct")
	})
}

func TestExpandTemplates_MissingVariable(t *testing.T) {
	type nested struct {
		URL string `template:""`
	}
	type S struct {
		Source nested
	}

	in := S{Source: nested{URL: "https://${MISSING_HOST}/a"}}
	err := ExpandTemplates(&in, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Source: URL:")
	assert.Contains(t, err.Error(), "MISSING_HOST")
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		variables  map[string]string
		want       string
		wantErr    bool
		errContain string
	}{
		{
			name:      "no variables",
			value:     "plain-text",
			variables: map[string]string{},
			want:      "plain-text",
		},
		{
			name:  "multiple variables",
			value: "${ARCHIVE_NAME}-${ARCHIVE_DATE_ISO8601}.zip",
			variables: map[string]string{
				"ARCHIVE_NAME":         "release",
				"ARCHIVE_DATE_ISO8601": "20260124T103000Z",
			},
			want: "release-20260124T103000Z.zip",
		},
		{
			name:      "dollar sign without braces uses short form",
			value:     "$PLAIN",
			variables: map[string]string{"PLAIN": "value"},
			want:      "value",
		},
		{
			name:       "undefined variable",
			value:      "${SECRET_KEY}",
			variables:  map[string]string{},
			wantErr:    true,
			errContain: `variable "SECRET_KEY" is not defined and not in the allowed environment list`,
		},
		{
			name:      "multiple errors accumulated",
			value:     "${NOT_ALLOWED}${ALSO_NOT_ALLOWED}",
			variables: map[string]string{},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.value, tt.variables)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errContain != "" {
					assert.Contains(t, err.Error(), tt.errContain)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandMap(t *testing.T) {
	t.Run("nil map", func(t *testing.T) {
		got, err := ExpandMap(nil, nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("values are expanded", func(t *testing.T) {
		got, err := ExpandMap(map[string]string{"X-Archive": "${ARCHIVE_NAME}"}, map[string]string{"ARCHIVE_NAME": "bundle"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"X-Archive": "bundle"}, got)
	})

	t.Run("errors name the key", func(t *testing.T) {
		_, err := ExpandMap(map[string]string{"Authorization": "Bearer ${TOKEN}"}, map[string]string{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Authorization")
		assert.Contains(t, err.Error(), "TOKEN")
	})
}
