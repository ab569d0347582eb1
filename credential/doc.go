// Package credential provides password hashing and signed-token
// issuance for handlers that gate access behind a login step.
//
// Passwords are hashed with bcrypt. Tokens are JWTs signed with
// HMAC-SHA256 over a shared secret; verification checks the signature,
// the expiry, and the configured issuer.
//
// # Usage
//
//	svc, err := credential.NewHMACService(cfg.Credential, logger)
//	if err != nil {
//	    return err
//	}
//
//	hash, _ := svc.HashPassword("s3cret")
//	if err := svc.VerifyPassword(hash, "s3cret"); err != nil {
//	    // wrong password
//	}
//
//	token, _ := svc.IssueToken("user-1", map[string]any{"role": "admin"})
//	identity, err := svc.VerifyToken(token)
package credential
