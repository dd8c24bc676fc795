package shadpkg

import (
	"crypto/rsa"
	"fmt"
	"math/big"
)

// The two RSA-2048 private keys the PKG key chain is gated by: one unwraps
// DK3 from the entry-keys blob, the other unwraps EKPFS from the image key.

var (
	pkgDerivedKey3Keyset *rsa.PrivateKey
	fakeKeyset           *rsa.PrivateKey
)

func init() {
	pkgDerivedKey3Keyset = parseKeyset(
		"a3d1021e491986d925625726d244f9fee5a80c4be5252ee39fc674f9256b626d"+
			"3cb0bee855f2894d49242fffecdb9e459b0379bbd8c41b2c1b1d777c8f4492f0"+
			"4936af84b1adb51fa42eb8f3cfb7d363dfb2e7c41cd9b9605ca161aecf0a4dd2"+
			"66a08452911831d6c993c6be3215822150cbd6a3e1ecd3a0cf720648a65304de"+
			"a30d3ba53d05d58820aa701c44487e7c88860dbd58a763d5a545563badbd6e6a"+
			"6b24a2b233a52044cb51c8b0954e855e8ffe9b9cecb3ecdb319b4c190b2f7559"+
			"1ce3866e26b9d6bd2768fc7f425a633ee9fdaf7911643ae847a3df7eb426705d"+
			"2ffbd523fceb5340a537b864957d00a37a6b9d13e0c607a58706b2d17aa122d7",
		"1b96c50c8f5dc5357cf3a59f317a7c6aa4083bf496e5943d5c589d5ff8755ab6"+
			"45aa5ea73267b91d5306cd2eaf98027d268631fcf8f2236c0cda56ed4613a920"+
			"deb3b46107562ca83a366edfb6494c9e0811515c834a07cbbacdfdc2e5b63935"+
			"08ce5a7aad5a58751c0324a2e8e71bc0bb4d6e70b09ea4baf334f8e9f3590d50"+
			"a1e931b2328498848fc6e6521668adb4f322b17fffe4327b622bf4fae2c5c46c"+
			"b7336c29cdbf13cd2f35b0798a850096caf446bff3c102b035c6dc4757a94e43"+
			"b4208547efb20ce4948113eaeb25ee7384df699d4bba2ded39429a9b9f007cb5"+
			"b60cf0583a195bb06698fe34d9503a746aac6851f43625d00e33ac462034a29",
		"d29c8d7e843d165fd0690a1747bb670b97b544a12f6d0bebb574c21648d6969d"+
			"b9b82296b13c93f7065b54efb6c4b647562420aff1294a8d241a8d2efa8b01ac"+
			"85054927d655b12d6f2430e3fd7c9f0dc3ee904b894638e7f8834ca25531d54e"+
			"69640795057f946bbdfcd2181a4ac355ef96eaadbbfd54c0c79e230d696cf0d9",
		"c71ec4a5e9ac9898ffa54507b8d2842af7d01f14f43f8bb14c1c7d39ef2f49eb"+
			"19f2c318200b9cc7ea9ffe01edb9bba4b85429adf5e40b5c642d629ce85cd0a4"+
			"aec7526ac09aa78a9d9a82b72f723b978ee3ccaefc2949c308aeed148e4cb7fb"+
			"d8e6b326f055487871fd9e2b474f38cdc3778aca6c1870721b6aea953445632f",
	)

	fakeKeyset = parseKeyset(
		"c9f07b0dad63c9eaa7a63c04465e59b898ee9f9183bc19b717275f53f014121f"+
			"d4e6e4f47d760907868d0dfc1d7a7442c002f1ce53afa1731edad71796b50973"+
			"2d7ae1807c0ba0fd5b2c92a3cc9255dcb3001f23cb1d728884a7f15e08e01952"+
			"1d824087d522787e44952079e609e94d6fbb80d3dadcfbee4004087ff35586d5"+
			"6e879fd47e257c2253da400b4dea3297ac9a62d4cbcaab03eba34ceeedd4896a"+
			"7cf958b86a6e108de40cc0b3246e85766971a7edb3847f2a4c7664a36350442a"+
			"6549413c267db4d59bf065a9542887974399adb4a1574ebcfd26497941aab265"+
			"626b13972ae470cee85e15b7cda7dcad792ad4ac9e26eea8815afe7b65ea6f05",
		"45b22d164460ab80c489f82ed5869cdabc55a75716ab6608ae0215c1a79b95c1"+
			"ccbe40092dfffe0fcddd83151fab72d2d2e871426fd9af144772ea47a6e926b0"+
			"cce29b4fb8005f78f1edc952a539604f02aca912b6789c5e07c2dae84491ebcb"+
			"4e89f4f1ac9af0114c6457c81aa0131879d6b218ec71d6b59cfc875e79c26bfd"+
			"42358113046af408d73989ae955618a00aeb2b233eac0292bcbfd5807575a611"+
			"868b0f89c7d2458f9883c7c47cf43536315918ffebabdfc19bf7f3773363e806"+
			"dd1734c2411987934ce305a29b7844b98509bd887e26c9a2babd02c6150e35e4"+
			"de2bafa5df0a395dc2fbbccc651b30f15f432ed956da8128c608dca8fe2b7045",
		"fa2baa93796daa644cf690337e92756614b58b4e470bed49fa372950ffa5e8ef"+
			"7740c951461effbcd3f0073fd4d2f63615faefe0445b963a7cf85687498fd203"+
			"7d84fe8a15be1c53a1c1e7cb1dcc8e4131bfd3ef57cd54826af23dac865fbc35"+
			"bf2a71f301ec174e3727a75b6051d8d19047c1a97721242833da68a702fc017f",
		"cea51a3f10f11535f2da37000e6602e9188dba2c6567233d572718d3df3dc3a7"+
			"98c1b72739b8c54e146e6fc48af656b6b768b414660184ca5424b4e0a9178b3c"+
			"2e83a0275ac80800a1808783dc36a5309c2fdc42097428aed8e0157f85cff587"+
			"5cb682743e565720484183890e0285b11a5fbd68b33df9180a35c6fc28d7c97b",
	)
}

func parseKeyset(modulus, privateExponent, prime1, prime2 string) *rsa.PrivateKey {
	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{
			N: parseKeyInt(modulus),
			E: 0x10001,
		},
		D:      parseKeyInt(privateExponent),
		Primes: []*big.Int{parseKeyInt(prime1), parseKeyInt(prime2)},
	}
	key.Precompute()
	return key
}

func parseKeyInt(hexStr string) *big.Int {
	n, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		panic(fmt.Errorf("pkg: malformed embedded key material"))
	}
	return n
}
