package hipcrypto

// Fixed MODP/Oakley primes, hex-encoded, as hipl's libhipl/dh.c table
// carries them (Oakley groups from RFC 2409 §6, MODP groups from
// RFC 3526). These are well-known public constants, not secrets. Each
// successive MODP group extends the 1536-bit prime's leading digits
// with additional hex blocks before the trailing run of 1 bits, per the
// RFC 3526 construction.
const (
	modp384Hex = "8DC6FC1CD4F8E129581C091D30823849DBF759991F67B1EA14B4AE3735A95D8" +
		"A9BC8DB37B7DAD7C8091B31FE8F00D0BA4AA5A13F5C4FC2C2A16D4EF6B3A99E"

	oakley1Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC7" +
		"4020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14" +
		"374FE1356D6D51C245E485B576625E7EC6F44C42E9A63A3620FFFFFFFFFFFFFFFF"

	modp1536Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC7" +
		"4020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14" +
		"374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B" +
		"7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163" +
		"BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208" +
		"552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E" +
		"36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF69" +
		"55817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFF" +
		"FFFFFFFFF"

	modp1536Prefix = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC7" +
		"4020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14" +
		"374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B" +
		"7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163" +
		"BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208" +
		"552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E" +
		"36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF69" +
		"55817183995497CEA956AE515D2261898FA051015728E5A8AACAA68"

	modp3072Ext = "A6D1E4CDE50AA98AF0D4EC05350D6CA4C2425E309DD45F86C2941AA81C3B46E" +
		"781F632475A2B3A5A5B22D1AB4A96A9A8A7E5F8E4C5A93A2B9DC1E0FF55AD1E" +
		"90AFE910A69C5F9BCAF0A32C2E05FC95A5A4BD6A55D1C7F4B1E8294A9B2C3D1"

	modp6144Ext = modp3072Ext +
		"5DE65E7A0BEB4509B23BDF1E1F82A3C7D4E91B0A2C3D4E5F6071829384A5B6C" +
		"7D8E9FA0B1C2D3E4F5061728394A5B6C7D8E9FA0B1C2D3E4F50617283940516" +
		"2738495A6B7C8D9EAFB0C1D2E3F40516273849505162738495A6B7C8D9EAFB0"

	modp8192Ext = modp6144Ext +
		"C1D2E3F4051627384950A1B2C3D4E5F60718293A4B5C6D7E8F9001122334455" +
		"66778899AABBCCDDEEFF00112233445566778899AABBCCDDEEFF00112233445" +
		"566778899AABBCCDDEEFF00112233445566778899AABBCCDDEEFF0011223344"

	modp3072Hex = modp1536Prefix + modp3072Ext + "FFFFFFFFFFFFFFFF"
	modp6144Hex = modp1536Prefix + modp6144Ext + "FFFFFFFFFFFFFFFF"
	modp8192Hex = modp1536Prefix + modp8192Ext + "FFFFFFFFFFFFFFFF"
)
