package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderLayout(t *testing.T) {
	got := NewEncoder(0).
		Uint32(0x01020304).
		Bool(true).
		String("ab").
		Bytes([]byte{0xff}).
		Raw([]byte{9, 9}).
		Encoded()

	want := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x01,
		0, 0, 0, 2, 'a', 'b',
		0, 0, 0, 1, 0xff,
		9, 9,
	}
	assert.Equal(t, want, got)
}

func TestDecoderReadsEncodedFields(t *testing.T) {
	body := NewEncoder(32).Uint32(7).Bool(false).String("rsa").Bytes([]byte("blob")).Encoded()
	d := NewDecoder(body)

	v, err := d.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	b, err := d.Bool()
	require.NoError(t, err)
	assert.False(t, b)

	s, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "rsa", s)

	raw, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), raw)

	require.NoError(t, d.Finish())
}

func TestDecoderErrors(t *testing.T) {
	cases := []struct {
		name string
		body []byte
		read func(*Decoder) error
		want error
	}{
		{"short u32", []byte{0, 0, 1}, func(d *Decoder) error { _, err := d.Uint32(); return err }, ErrTruncated},
		{"bool out of range", []byte{2}, func(d *Decoder) error { _, err := d.Bool(); return err }, ErrInvalidBool},
		{"string longer than body", []byte{0, 0, 0, 5, 'a'}, func(d *Decoder) error { _, err := d.String(); return err }, ErrTruncated},
		{"huge length prefix", []byte{0xff, 0xff, 0xff, 0xff}, func(d *Decoder) error { _, err := d.Bytes(); return err }, ErrTruncated},
		{"raw past end", []byte{1}, func(d *Decoder) error { _, err := d.Raw(2); return err }, ErrTruncated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.read(NewDecoder(tc.body)), tc.want)
		})
	}
}

func TestDecoderTrailingData(t *testing.T) {
	d := NewDecoder([]byte{0, 0, 0, 1, 0xaa})
	_, err := d.Uint32()
	require.NoError(t, err)
	assert.ErrorIs(t, d.Finish(), ErrTrailingData)
	assert.Equal(t, []byte{0xaa}, d.Rest())
	assert.NoError(t, d.Finish())
}

func TestDecoderAliasesInput(t *testing.T) {
	body := NewEncoder(0).Bytes([]byte{1, 2, 3}).Encoded()
	got, err := NewDecoder(body).Bytes()
	require.NoError(t, err)
	body[4] = 42
	assert.Equal(t, byte(42), got[0])
}

func TestCheckLen(t *testing.T) {
	assert.NoError(t, CheckLen(65536))
	assert.NoError(t, CheckLen(0))
}
