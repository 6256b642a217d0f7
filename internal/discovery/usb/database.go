// internal/discovery/usb/database.go
package usb

import (
	"github.com/google/gousb"
)

// VendorDatabase names the USB vendors of bench instruments and of the
// USB to serial bridges found in instrument cables
type VendorDatabase struct {
	vendors map[gousb.ID]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name string
	// Bridge is set for USB to serial converters. Those show up as serial
	// ports, not as USBTMC instruments.
	Bridge   bool
	products map[gousb.ID]*ProductInfo
}

// ProductInfo contains product-specific information
type ProductInfo struct {
	Model  string
	Family string
}

// NewVendorDatabase creates and initializes the vendor database
func NewVendorDatabase() *VendorDatabase {
	db := &VendorDatabase{
		vendors: make(map[gousb.ID]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *VendorDatabase) initializeDatabase() {
	db.AddVendor(0x0957, &VendorInfo{Name: "Keysight Technologies"})
	db.AddProduct(0x0957, 0x0807, &ProductInfo{Model: "N8700", Family: "power supply"})
	db.AddProduct(0x0957, 0x2007, &ProductInfo{Model: "34972A", Family: "data acquisition"})
	db.AddProduct(0x0957, 0x0607, &ProductInfo{Model: "34410A", Family: "multimeter"})
	db.AddProduct(0x0957, 0x1A07, &ProductInfo{Model: "33500B", Family: "waveform generator"})

	db.AddVendor(0x1AB1, &VendorInfo{Name: "Rigol Technologies"})
	db.AddProduct(0x1AB1, 0x04CE, &ProductInfo{Model: "DS1000Z", Family: "oscilloscope"})
	db.AddProduct(0x1AB1, 0x0E11, &ProductInfo{Model: "DP800", Family: "power supply"})
	db.AddProduct(0x1AB1, 0x0C94, &ProductInfo{Model: "DM3058", Family: "multimeter"})

	db.AddVendor(0x0699, &VendorInfo{Name: "Tektronix"})
	db.AddProduct(0x0699, 0x0368, &ProductInfo{Model: "TBS1000B", Family: "oscilloscope"})

	db.AddVendor(0x0AAD, &VendorInfo{Name: "Rohde & Schwarz"})
	db.AddVendor(0x05E6, &VendorInfo{Name: "Keithley Instruments"})
	db.AddProduct(0x05E6, 0x2450, &ProductInfo{Model: "2450", Family: "source meter"})

	db.AddVendor(0x0403, &VendorInfo{Name: "FTDI", Bridge: true})
	db.AddVendor(0x067B, &VendorInfo{Name: "Prolific", Bridge: true})
	db.AddVendor(0x10C4, &VendorInfo{Name: "Silicon Labs", Bridge: true})
	db.AddVendor(0x1A86, &VendorInfo{Name: "QinHeng", Bridge: true})
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *VendorDatabase) IsKnownVendor(vendorID gousb.ID) bool {
	_, exists := db.vendors[vendorID]
	return exists
}

// IsInstrumentVendor reports whether vendorID makes test instruments
func (db *VendorDatabase) IsInstrumentVendor(vendorID gousb.ID) bool {
	v, exists := db.vendors[vendorID]
	return exists && !v.Bridge
}

// GetVendorInfo retrieves vendor information
func (db *VendorDatabase) GetVendorInfo(vendorID gousb.ID) *VendorInfo {
	return db.vendors[vendorID]
}

// GetProductInfo retrieves product information from vendor
func (vi *VendorInfo) GetProductInfo(productID gousb.ID) *ProductInfo {
	return vi.products[productID]
}

// AddVendor adds a new vendor to the database
func (db *VendorDatabase) AddVendor(vendorID gousb.ID, info *VendorInfo) {
	if info.products == nil {
		info.products = make(map[gousb.ID]*ProductInfo)
	}
	db.vendors[vendorID] = info
}

// AddProduct adds a new product to an existing vendor
func (db *VendorDatabase) AddProduct(vendorID, productID gousb.ID, info *ProductInfo) {
	if vendor, exists := db.vendors[vendorID]; exists {
		vendor.products[productID] = info
	}
}
