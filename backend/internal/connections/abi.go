package connections

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names
const (
	MethodFollow             = "follow"
	MethodUnfollow           = "unfollow"
	MethodUnfollowAll        = "unfollowAll"
	MethodGetUser            = "getUser"
	MethodIsTrustedForwarder = "isTrustedForwarder"
)

const contractABI = `[
	{"type":"constructor","inputs":[{"name":"trustedForwarder","type":"address"}]},
	{"type":"function","name":"follow","stateMutability":"nonpayable",
	 "inputs":[{"name":"users","type":"address[]"}],"outputs":[]},
	{"type":"function","name":"unfollow","stateMutability":"nonpayable",
	 "inputs":[{"name":"users","type":"address[]"}],"outputs":[]},
	{"type":"function","name":"unfollowAll","stateMutability":"nonpayable",
	 "inputs":[],"outputs":[]},
	{"type":"function","name":"getUser","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[{"name":"following","type":"address[]"},{"name":"followers","type":"address[]"}]},
	{"type":"function","name":"isTrustedForwarder","stateMutability":"view",
	 "inputs":[{"name":"forwarder","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Followed","anonymous":false,
	 "inputs":[{"name":"follower","type":"address","indexed":true},{"name":"followed","type":"address","indexed":true}]},
	{"type":"event","name":"Unfollowed","anonymous":false,
	 "inputs":[{"name":"follower","type":"address","indexed":true},{"name":"unfollowed","type":"address","indexed":true}]}
]`

// ParsedABI is the interface of the social connections contract
var ParsedABI = mustParseABI(contractABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("connections: invalid contract ABI: " + err.Error())
	}
	return parsed
}
