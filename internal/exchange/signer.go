package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	headerAccessKey       = "KALSHI-ACCESS-KEY"
	headerAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	headerAccessSignature = "KALSHI-ACCESS-SIGNATURE"
)

// Signer 使用 RSA-PSS(SHA256) 为请求签名。
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewSigner 创建签名器。
func NewSigner(keyID string, key *rsa.PrivateKey) (*Signer, error) {
	if keyID == "" {
		return nil, errors.New("exchange: api_key_id 不能为空")
	}
	if key == nil {
		return nil, errors.New("exchange: 私钥不能为空")
	}
	return &Signer{keyID: keyID, key: key}, nil
}

// LoadSigner 从 PEM 文件加载私钥并创建签名器。
func LoadSigner(keyID, path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("exchange: 读取私钥文件失败: %w", err)
	}
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, key)
}

// ParsePrivateKey 解析 PKCS#1 或 PKCS#8 格式的 RSA 私钥。
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("exchange: 私钥文件不是 PEM 格式")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("exchange: 解析 PKCS1 私钥失败: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("exchange: 解析 PKCS8 私钥失败: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("exchange: 私钥不是 RSA 类型")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("exchange: 不支持的 PEM 类型 %q", block.Type)
	}
}

// Sign 计算 timestamp+method+path 的签名，path 不含查询串。
func (s *Signer) Sign(timestampMs int64, method, path string) (string, error) {
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("exchange: 签名失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Apply 为请求写入鉴权头。
func (s *Signer) Apply(req *http.Request, now time.Time) error {
	ts := now.UnixMilli()
	sig, err := s.Sign(ts, req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	req.Header.Set(headerAccessKey, s.keyID)
	req.Header.Set(headerAccessTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headerAccessSignature, sig)
	return nil
}

// Verify 校验签名，供测试与自检使用。
func (s *Signer) Verify(timestampMs int64, method, path, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("exchange: 签名不是 base64: %w", err)
	}
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))
	return rsa.VerifyPSS(&s.key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
}
