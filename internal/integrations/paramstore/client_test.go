package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out *ssm.GetParameterOutput
	err error
	in  *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter(t *testing.T) {
	value := `{"key":"secret-key"}`
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &value}}}
	client, err := New(api)
	require.NoError(t, err)

	got, err := client.GetParameter(context.Background(), "/healthcare/prod/speech-api-key")
	require.NoError(t, err)
	require.Equal(t, value, got)

	require.NotNil(t, api.in.Name)
	require.Equal(t, "/healthcare/prod/speech-api-key", *api.in.Name)
	require.NotNil(t, api.in.WithDecryption)
	require.True(t, *api.in.WithDecryption)
}

func TestGetParameter_TrimsName(t *testing.T) {
	value := "v"
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &value}}}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "  /healthcare/prod/speech-api-key ")
	require.NoError(t, err)
	require.Equal(t, "/healthcare/prod/speech-api-key", *api.in.Name)
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeSSM{})
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "   ")
	require.Error(t, err)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{}}}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "/healthcare/prod/speech-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_APIError(t *testing.T) {
	client, err := New(&fakeSSM{err: errors.New("access denied")})
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "/healthcare/prod/speech-api-key")
	require.ErrorContains(t, err, "access denied")
}
