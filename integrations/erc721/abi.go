package erc721

// WizardCollectionABI is the subset of the Wizard collection contract the
// issuer calls: an owner-gated mint, ERC-721 supply, balance and owner views and a
// per-collection metadata getter.
const WizardCollectionABI = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"totalSupply","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getAttribute","stateMutability":"view",
   "inputs":[{"name":"collection","type":"bytes"},{"name":"key","type":"string"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"indexed":true,"name":"from","type":"address"},
             {"indexed":true,"name":"to","type":"address"},
             {"indexed":true,"name":"tokenId","type":"uint256"}]}
]`
