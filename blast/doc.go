// Package blast provides the key generation clients of the SDK.
//
// Two clients cover the two key distribution models:
//
// # LocalClient
//
// Generates keys on the device from locally cached quantum random. The client
// owns a cache.Engine: encrypted random is downloaded in the background from
// an interfaces.EntropySource, stored across the configured locations, and
// consumed exactly once per generated key.
//
//	client := blast.NewLocalClient(source, log)
//	if err := client.InitializeAsync(token, cfg); err != nil { ... }
//	key, err := client.GenSymmetricKey(interfaces.SymmetricKeyModeAES256, 0)
//	pair, err := client.GenAsymmetricKeys(interfaces.AsymmetricKeyModeKyber)
//
// # DistributedClient
//
// Generates keys shared between two parties through a remote BLAST agreement
// service. The initiating side calls GenInit and receives a key plus an
// opaque metadata token; the token travels over any channel to the other
// side, which calls GenSync and derives the same key. The metadata does not
// reveal the key.
//
//	a := blast.NewDistributedClient(svc, log)
//	a.Initialize(token)
//	keyData, err := a.GenInit(ctx, interfaces.SymmetricKeyModeAES256, 0)
//	// send keyData.Metadata to the peer
//
//	b := blast.NewDistributedClient(svc, log)
//	b.Initialize(token)
//	key, err := b.GenSync(ctx, keyData.Metadata)
//	// key equals keyData.Key
package blast
