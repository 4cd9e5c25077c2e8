package evm

const (
	// Ownership and admin registry
	FunctionOwner       = "owner"
	FunctionAdmins      = "admins"
	FunctionAddAdmin    = "addAdmin"
	FunctionRemoveAdmin = "removeAdmin"

	// Inventory
	FunctionGetMedicine            = "getMedicine"
	FunctionGetAllMedicineIDs      = "getAllMedicineIds"
	FunctionAddMedicine            = "addMedicine"
	FunctionRemoveMedicine         = "removeMedicine"
	FunctionSubtractMedicineAmount = "subtractMedicineAmount"

	// Purchase requests
	FunctionGetBuyRequestCount    = "getBuyRequestCount"
	FunctionGetBuyRequest         = "getBuyRequest"
	FunctionGetAllRequestsByBuyer = "getAllRequestsByBuyer"
	FunctionRequestBuyMedicine    = "requestBuyMedicine"
	FunctionApproveBuyRequest     = "approveBuyRequest"
	FunctionRejectBuyRequest      = "rejectBuyRequest"
	FunctionCompleteBuyRequest    = "completeBuyRequest"
)

// MedicineContractABI is the ABI of the inventory contract
var MedicineContractABI = []byte(`[
	{
		"inputs": [],
		"name": "owner",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "", "type": "address"}],
		"name": "admins",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "_admin", "type": "address"}],
		"name": "addAdmin",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "_admin", "type": "address"}],
		"name": "removeAdmin",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "_id", "type": "string"}],
		"name": "getMedicine",
		"outputs": [
			{"name": "name", "type": "string"},
			{"name": "medicineAmount", "type": "uint256"},
			{"name": "expiryDate", "type": "string"},
			{"name": "ipfsHash", "type": "string"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getAllMedicineIds",
		"outputs": [{"name": "", "type": "string[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_id", "type": "string"},
			{"name": "_name", "type": "string"},
			{"name": "_medicineAmount", "type": "uint256"},
			{"name": "_expiryDate", "type": "string"},
			{"name": "_ipfsHash", "type": "string"}
		],
		"name": "addMedicine",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "_id", "type": "string"}],
		"name": "removeMedicine",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_id", "type": "string"},
			{"name": "_amountToSubtract", "type": "uint256"}
		],
		"name": "subtractMedicineAmount",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getBuyRequestCount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "index", "type": "uint256"}],
		"name": "getBuyRequest",
		"outputs": [
			{"name": "medicineId", "type": "string"},
			{"name": "buyer", "type": "address"},
			{"name": "requestedAmount", "type": "uint256"},
			{"name": "uniqueId", "type": "bytes32"},
			{"name": "approved", "type": "bool"},
			{"name": "rejected", "type": "bool"},
			{"name": "completed", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "buyer", "type": "address"}],
		"name": "getAllRequestsByBuyer",
		"outputs": [
			{
				"name": "",
				"type": "tuple[]",
				"components": [
					{"name": "medicineId", "type": "string"},
					{"name": "buyer", "type": "address"},
					{"name": "requestedAmount", "type": "uint256"},
					{"name": "uniqueId", "type": "bytes32"},
					{"name": "approved", "type": "bool"},
					{"name": "rejected", "type": "bool"},
					{"name": "completed", "type": "bool"}
				]
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "medicineId", "type": "string"},
			{"name": "requestedAmount", "type": "uint256"},
			{"name": "uniqueId", "type": "bytes32"}
		],
		"name": "requestBuyMedicine",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "index", "type": "uint256"}],
		"name": "approveBuyRequest",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "index", "type": "uint256"}],
		"name": "rejectBuyRequest",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "uniqueId", "type": "bytes32"}],
		"name": "completeBuyRequest",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)
