package usb

import (
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"instrument-service/internal/model"
)

func descWithInterface(vendor, product gousb.ID, class, subClass gousb.Class) *gousb.DeviceDesc {
	return &gousb.DeviceDesc{
		Bus:     1,
		Address: 7,
		Vendor:  vendor,
		Product: product,
		Configs: map[int]gousb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []gousb.InterfaceDesc{{
					Number:      0,
					AltSettings: []gousb.InterfaceSetting{{Class: class, SubClass: subClass}},
				}},
			},
		},
	}
}

func TestIsUSBTMC(t *testing.T) {
	assert.True(t, isUSBTMC(descWithInterface(0x0957, 0x0807, gousb.ClassApplication, 0x03)))
	assert.False(t, isUSBTMC(descWithInterface(0x0957, 0x0807, gousb.ClassApplication, 0x01)))
	assert.False(t, isUSBTMC(descWithInterface(0x0403, 0x6001, gousb.ClassVendorSpec, 0xFF)))
}

func TestScanner_ShouldExamineDevice(t *testing.T) {
	s := NewScanner(zaptest.NewLogger(t), nil)
	rigolVendorClass := descWithInterface(0x1AB1, 0x04CE, gousb.ClassVendorSpec, 0)
	ftdi := descWithInterface(0x0403, 0x6001, gousb.ClassVendorSpec, 0xFF)

	assert.False(t, s.shouldExamineDevice(rigolVendorClass))

	s.config.KnownVendorsOnly = true
	assert.True(t, s.shouldExamineDevice(rigolVendorClass))
	assert.False(t, s.shouldExamineDevice(ftdi), "serial bridges are not instruments")
}

func TestScanner_DescribeBuildsVISAResource(t *testing.T) {
	s := NewScanner(zaptest.NewLogger(t), nil)

	port := s.describe(descWithInterface(0x0957, 0x0807, gousb.ClassApplication, 0x03), "US12345")
	assert.Equal(t, model.ConnectionTypeUSBTMC, port.ConnectionType)
	assert.Equal(t, "USB0::0x0957::0x0807::US12345::INSTR", port.Address)
	assert.Equal(t, "Keysight Technologies", port.Vendor)
	assert.Equal(t, "N8700", port.Model)

	port = s.describe(descWithInterface(0x0AAD, 0x0197, gousb.ClassApplication, 0x03), "")
	assert.Equal(t, "USB0::0x0AAD::0x0197::INSTR", port.Address)
	assert.Empty(t, port.Model)
}

func TestVendorDatabase(t *testing.T) {
	db := NewVendorDatabase()
	assert.True(t, db.IsKnownVendor(0x067B))
	assert.False(t, db.IsInstrumentVendor(0x067B))
	assert.True(t, db.IsInstrumentVendor(0x0699))
	assert.Nil(t, db.GetVendorInfo(0x1234))

	db.AddVendor(0x1234, &VendorInfo{Name: "Test"})
	db.AddProduct(0x1234, 0x0001, &ProductInfo{Model: "T1"})
	assert.Equal(t, "T1", db.GetVendorInfo(0x1234).GetProductInfo(0x0001).Model)
}
