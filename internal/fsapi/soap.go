package fsapi

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

const soapNamespace = "http://schemas.xmlsoap.org/soap/envelope/"

// requestEnvelope wraps an operation payload in a SOAP 1.1 envelope.
type requestEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NSSoap  string   `xml:"xmlns:soapenv,attr"`
	NSFS    string   `xml:"xmlns:fs,attr"`
	Body    requestBody
}

type requestBody struct {
	XMLName xml.Name `xml:"soapenv:Body"`
	Payload any
}

// responseEnvelope captures the raw body of a SOAP response so the
// operation result can be unmarshaled in a second pass.
type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault   *Fault `xml:"Fault"`
		Payload []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Fault is a SOAP fault returned by the FS service.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// call performs one SOAP request/response round trip against the given
// endpoint and unmarshals the operation result into out.
func (c *Client) call(ctx context.Context, endpoint, action string, payload, out any) error {
	env := requestEnvelope{
		NSSoap: soapNamespace,
		NSFS:   "urn:FSAPI",
		Body:   requestBody{Payload: payload},
	}

	body, err := xml.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}
	body = append([]byte(xml.Header), body...)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", action, err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", action)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Faults arrive with a 500 status; parse the envelope before
	// rejecting on status alone.
	var respEnv responseEnvelope
	if err := xml.Unmarshal(respBody, &respEnv); err != nil {
		if httpResp.StatusCode >= 400 {
			return fmt.Errorf("fs api error: status=%d body=%s", httpResp.StatusCode, string(respBody))
		}
		return fmt.Errorf("unmarshal %s response: %w", action, err)
	}

	if respEnv.Body.Fault != nil {
		return respEnv.Body.Fault
	}
	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("fs api error: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(respEnv.Body.Payload, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", action, err)
	}

	return nil
}
