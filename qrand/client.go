// Package qrand provides the HTTP client for the quantum entropy and BLAST
// agreement APIs. The Client implements both interfaces.EntropySource and
// interfaces.AgreementService against a remote service speaking the wire
// format defined here; the simulator package serves the same format
// in-process for development.
package qrand

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quantropy/keygen/interfaces"
)

// Wire format of the entropy and agreement endpoints. All binary fields are
// base64-encoded by encoding/json.
type (
	// EntropyResponse carries downloaded random. Random may be shorter than
	// requested when the service is throttling.
	EntropyResponse struct {
		Random []byte `json:"random"`
	}

	// AgreementInitRequest starts an agreement session.
	AgreementInitRequest struct {
		Mode    string `json:"mode"`
		KeySize uint64 `json:"key_size,omitempty"`
	}

	// AgreementInitResponse returns the initiator's key and the metadata
	// token for the responding party.
	AgreementInitResponse struct {
		Key      []byte `json:"key"`
		Metadata []byte `json:"metadata"`
	}

	// AgreementSyncRequest presents a metadata token.
	AgreementSyncRequest struct {
		Metadata []byte `json:"metadata"`
	}

	// AgreementSyncResponse returns the key the initiator holds.
	AgreementSyncResponse struct {
		Key []byte `json:"key"`
	}
)

// Client talks to a remote quantum entropy service over HTTP. The bearer
// token is supplied per call by the cache engine and agreement clients, not
// stored here.
type Client struct {
	// ServerAddr is the base URL of the entropy service
	ServerAddr string

	// HTTPClient is used for all requests; http.DefaultClient when nil
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// FetchRandom downloads up to numBytes of fresh quantum random. A short
// response is returned as-is; the caller retries the shortfall later.
func (c *Client) FetchRandom(ctx context.Context, token string, numBytes uint64) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/entropy?size=%d", c.ServerAddr, numBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request entropy endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("entropy", resp)
	}

	var parsed EntropyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse entropy response: %w", err)
	}
	if uint64(len(parsed.Random)) > numBytes {
		return nil, fmt.Errorf("entropy endpoint returned %d bytes, requested %d", len(parsed.Random), numBytes)
	}
	return parsed.Random, nil
}

// Initiate starts an agreement session and returns this side's key together
// with the metadata token for the other party.
func (c *Client) Initiate(ctx context.Context, token string, mode interfaces.SymmetricKeyMode, keySize uint64) (interfaces.SymmetricKeyData, error) {
	body, err := json.Marshal(AgreementInitRequest{Mode: mode.String(), KeySize: keySize})
	if err != nil {
		return interfaces.SymmetricKeyData{}, err
	}

	url := fmt.Sprintf("%s/api/v1/agreement/init", c.ServerAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return interfaces.SymmetricKeyData{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return interfaces.SymmetricKeyData{}, fmt.Errorf("could not request agreement init endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return interfaces.SymmetricKeyData{}, responseError("agreement init", resp)
	}

	var parsed AgreementInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return interfaces.SymmetricKeyData{}, fmt.Errorf("could not parse agreement init response: %w", err)
	}
	return interfaces.SymmetricKeyData{Key: parsed.Key, Metadata: parsed.Metadata}, nil
}

// Sync presents a metadata token and returns the key the initiator holds. A
// token the service no longer recognizes fails with ErrUnknownSession.
func (c *Client) Sync(ctx context.Context, token string, metadata []byte) ([]byte, error) {
	body, err := json.Marshal(AgreementSyncRequest{Metadata: metadata})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/agreement/sync", c.ServerAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request agreement sync endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, interfaces.ErrUnknownSession
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError("agreement sync", resp)
	}

	var parsed AgreementSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse agreement sync response: %w", err)
	}
	return parsed.Key, nil
}

func responseError(endpoint string, resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil || len(bodyBytes) == 0 {
		return fmt.Errorf("%s endpoint returned non-200 response: %d", endpoint, resp.StatusCode)
	}
	return fmt.Errorf("%s endpoint returned error %d: %s", endpoint, resp.StatusCode, string(bodyBytes))
}
