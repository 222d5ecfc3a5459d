// Package coap implements the CoAP-over-UDP adapter on top of
// github.com/plgd-dev/go-coap/v3. Point addresses are resource paths;
// payloads are plain text. Observe support delivers server push with
// RFC 7641 sequence deduplication.
package coap
