package tools

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/pkg/schema"
)

// hashFunc returns a new hash.Hash for the given algorithm name.
func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "sha384":
		return sha512.New384, nil
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported hash algorithm: %s", algorithm)
	}
}

func cryptoHash(_ context.Context, inputs map[string]any) (any, error) {
	data, ok := inputs["data"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hash requires 'data' string input")
	}
	algorithm := stringParam(inputs, "algorithm", "sha256")

	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	h := newHash()
	h.Write([]byte(data))
	return map[string]any{
		"hash":      hex.EncodeToString(h.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

func cryptoHMAC(_ context.Context, inputs map[string]any) (any, error) {
	data, ok := inputs["data"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hmac requires 'data' string input")
	}
	key, ok := inputs["key"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hmac requires 'key' string input")
	}
	algorithm := stringParam(inputs, "algorithm", "sha256")

	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(newHash, []byte(key))
	mac.Write([]byte(data))
	return map[string]any{
		"hmac":      hex.EncodeToString(mac.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

func cryptoUUID(_ context.Context, _ map[string]any) (any, error) {
	return uuid.NewString(), nil
}

func cryptoTools() []*Tool {
	dataParam := schema.ParameterSpec{Name: "data", Type: "string", Required: true}
	algoParam := schema.ParameterSpec{Name: "algorithm", Type: "string", Description: "sha256 (default), sha512, sha384, sha1 or md5"}

	return []*Tool{
		builtin("crypto.hash", "Hash", "Crypto", "Compute a hex digest of the input data.",
			[]schema.ParameterSpec{dataParam, algoParam}, Func(cryptoHash)),
		builtin("crypto.hmac", "HMAC", "Crypto", "Compute a hex HMAC of the input data using the given key.",
			[]schema.ParameterSpec{dataParam, {Name: "key", Type: "string", Required: true}, algoParam}, Func(cryptoHMAC)),
		builtin("crypto.uuid", "UUID", "Crypto", "Generate a v4 UUID.", nil, Func(cryptoUUID)),
	}
}
